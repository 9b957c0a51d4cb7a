package protocol

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Dispatcher is implemented by internal/handler.Handler. Splitting the
// grammar (this package) from execution (handler) mirrors the original's
// separation between RequestParser and the Framework/SessionManager that
// actually carries requests out.
type Dispatcher interface {
	Ping() Response
	TscHz() Response
	ListProbes() Response
	ActivateProbe(req Request) Response
	DeactivateProbe(req Request) Response
	ActivateProbeSet(req Request) Response
	DeactivateProbeSet(req Request) Response
	ActivatePmu(req Request) Response
	ActivatePerfEvents(req Request) Response
	BeginProfile(req Request) Response
	EndProfile(req Request) Response
}

// allowedArgs enumerates the flags each command recognizes. Any flag present
// on a Request that isn't listed here is rejected before the command runs
// (spec §4.4: "unknown option ⇒ response marked as error, request not
// executed").
var allowedArgs = map[string]map[string]bool{
	"Ping":                {},
	"TscHz":               {},
	"ListProbes":          {},
	"ActivateProbe":       {"file": true, "line": true, "name": true},
	"DeactivateProbe":     {"file": true, "line": true, "name": true},
	"ActivateProbeSet":    {"rule": true},
	"DeactivateProbeSet":  {"rule": true},
	"ActivatePmu":         {"gpCtrCount": true, "fixedCtrList": true},
	"ActivatePerfEvents":  {"data": true},
	"BeginProfile":        {"samplesFilePattern": true, "pollInterval": true, "samplesDataCapacity": true},
	"EndProfile":          {},
}

func checkUnknownArgs(req Request) error {
	allowed, known := allowedArgs[req.Name]
	if !known {
		return nil // unknown command names are rejected by Dispatch's switch below
	}
	var unknown []string
	for key := range req.Args {
		if !allowed[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return errors.Errorf("%s: unknown option(s): --%s", req.Name, strings.Join(unknown, ", --"))
}

// Dispatch parses line and routes it to the matching Dispatcher method. An
// unknown command name, a parse failure, or an unrecognized flag all yield
// an error Response; the request is never partially executed.
func Dispatch(d Dispatcher, line string, origin Origin) Response {
	req, err := Parse(line)
	if err != nil {
		return Error(err)
	}
	req.Origin = origin
	if err := checkUnknownArgs(req); err != nil {
		return Error(err)
	}
	switch req.Name {
	case "Ping":
		return d.Ping()
	case "TscHz":
		return d.TscHz()
	case "ListProbes":
		return d.ListProbes()
	case "ActivateProbe":
		return d.ActivateProbe(req)
	case "DeactivateProbe":
		return d.DeactivateProbe(req)
	case "ActivateProbeSet":
		return d.ActivateProbeSet(req)
	case "DeactivateProbeSet":
		return d.DeactivateProbeSet(req)
	case "ActivatePmu":
		return d.ActivatePmu(req)
	case "ActivatePerfEvents":
		return d.ActivatePerfEvents(req)
	case "BeginProfile":
		return d.BeginProfile(req)
	case "EndProfile":
		return d.EndProfile(req)
	default:
		return Error(unknownCommand(req.Name))
	}
}

func unknownCommand(name string) error {
	return &unknownCommandError{name: name}
}

type unknownCommandError struct{ name string }

func (e *unknownCommandError) Error() string { return "unknown command: " + e.name }
