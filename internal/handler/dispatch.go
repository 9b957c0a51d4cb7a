package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/msdhamodharan/xpedite/internal/ledger"
	"github.com/msdhamodharan/xpedite/internal/pmu"
	"github.com/msdhamodharan/xpedite/internal/probe"
	"github.com/msdhamodharan/xpedite/internal/protocol"
	"github.com/msdhamodharan/xpedite/internal/sample"
)

var _ protocol.Dispatcher = (*Handler)(nil)

// The methods below implement protocol.Dispatcher, turning a parsed
// Request into a call against the typed entry points in handler.go. Each
// returns exactly one Response. Malformed arguments are rejected before
// anything is applied; ActivateProbeSet, DeactivateProbeSet and ActivatePmu
// apply their steps in order and do not undo the steps that succeeded
// before a failing one.

func (h *Handler) Ping() protocol.Response { return protocol.Ok("") }

func (h *Handler) TscHz() protocol.Response {
	return protocol.Ok(strconv.FormatUint(h.tscHz, 10))
}

func (h *Handler) ListProbes() protocol.Response {
	probes := h.registry.List()
	lines := make([]string, 0, len(probes))
	for _, p := range probes {
		h.resolver.Resolve(p.Key)
		lines = append(lines, fmt.Sprintf("%s,%d,%s,%t", p.Key.File, p.Key.Line, p.Key.Name, p.Enabled))
	}
	return protocol.Ok(strings.Join(lines, "\n"))
}

func (h *Handler) probeKeyFromRequest(req protocol.Request) (probe.Key, error) {
	file, err := req.RequireArg("file")
	if err != nil {
		return probe.Key{}, err
	}
	lineStr, err := req.RequireArg("line")
	if err != nil {
		return probe.Key{}, err
	}
	line, err := strconv.ParseUint(lineStr, 10, 32)
	if err != nil {
		return probe.Key{}, fmt.Errorf("%s: --line must be an integer: %w", req.Name, err)
	}
	name, _ := req.Arg("name")
	key, err := h.registry.Lookup(file, uint32(line), name)
	if err != nil {
		return probe.Key{}, err
	}
	h.resolver.Resolve(key)
	return key, nil
}

func (h *Handler) ActivateProbe(req protocol.Request) protocol.Response {
	key, err := h.probeKeyFromRequest(req)
	if err != nil {
		return protocol.Error(err)
	}
	if err := h.ActivateProbeKey(key); err != nil {
		return protocol.Error(err)
	}
	return protocol.Ok(key.String())
}

func (h *Handler) DeactivateProbe(req protocol.Request) protocol.Response {
	key, err := h.probeKeyFromRequest(req)
	if err != nil {
		return protocol.Error(err)
	}
	if err := h.DeactivateProbeKey(key); err != nil {
		return protocol.Error(err)
	}
	return protocol.Ok(key.String())
}

func (h *Handler) ActivateProbeSet(req protocol.Request) protocol.Response {
	rule, err := req.RequireArg("rule")
	if err != nil {
		return protocol.Error(err)
	}
	if h.selector == nil {
		return protocol.Error(fmt.Errorf("no rule-based selector configured"))
	}
	keys, err := h.selector.Match(rule, h.registry.List())
	if err != nil {
		return protocol.Error(err)
	}
	var failed []string
	for _, key := range keys {
		if err := h.ActivateProbeKey(key); err != nil {
			failed = append(failed, key.String())
		}
	}
	if len(failed) > 0 {
		return protocol.Error(fmt.Errorf("failed to activate: %s", strings.Join(failed, ", ")))
	}
	return protocol.Ok(strconv.Itoa(len(keys)))
}

func (h *Handler) DeactivateProbeSet(req protocol.Request) protocol.Response {
	rule, err := req.RequireArg("rule")
	if err != nil {
		return protocol.Error(err)
	}
	if h.selector == nil {
		return protocol.Error(fmt.Errorf("no rule-based selector configured"))
	}
	keys, err := h.selector.Match(rule, h.registry.List())
	if err != nil {
		return protocol.Error(err)
	}
	var failed []string
	for _, key := range keys {
		if err := h.DeactivateProbeKey(key); err != nil {
			failed = append(failed, key.String())
		}
	}
	if len(failed) > 0 {
		return protocol.Error(fmt.Errorf("failed to deactivate: %s", strings.Join(failed, ", ")))
	}
	return protocol.Ok(strconv.Itoa(len(keys)))
}

func (h *Handler) ActivatePmu(req protocol.Request) protocol.Response {
	gpCount, err := req.IntArg("gpCtrCount")
	if err != nil {
		return protocol.Error(err)
	}
	var fixed []uint8
	if list, ok := req.Arg("fixedCtrList"); ok && list != "" {
		for _, tok := range strings.Split(list, ",") {
			idx, err := strconv.ParseUint(strings.TrimSpace(tok), 10, 8)
			if err != nil {
				return protocol.Error(fmt.Errorf("ActivatePmu: invalid fixedCtrList entry %q: %w", tok, err))
			}
			fixed = append(fixed, uint8(idx))
		}
	}
	if total := gpCount + len(fixed); total > sample.MaxPMCCount {
		return protocol.Error(fmt.Errorf("ActivatePmu: %d counters requested, at most %d supported", total, sample.MaxPMCCount))
	}
	if err := h.EnableGpPMU(gpCount); err != nil {
		return protocol.Error(err)
	}
	for _, idx := range fixed {
		if err := h.EnableFixedPMU(idx); err != nil {
			return protocol.Error(err)
		}
	}
	return protocol.Ok("")
}

func (h *Handler) ActivatePerfEvents(req protocol.Request) protocol.Response {
	data, err := req.RequireArg("data")
	if err != nil {
		return protocol.Error(err)
	}
	if err := h.EnablePerfEvents(pmu.PerfEventRequest{Data: []byte(data)}); err != nil {
		return protocol.Error(err)
	}
	return protocol.Ok("")
}

func (h *Handler) BeginProfile(req protocol.Request) protocol.Response {
	pattern, err := req.RequireArg("samplesFilePattern")
	if err != nil {
		return protocol.Error(err)
	}
	pollMs, err := req.IntArg("pollInterval")
	if err != nil {
		return protocol.Error(err)
	}
	capacity, err := req.Uint64Arg("samplesDataCapacity")
	if err != nil {
		return protocol.Error(err)
	}
	kind := ledger.Local
	if req.Origin == protocol.OriginRemote {
		kind = ledger.Remote
	}
	if err := h.StartSession(pattern, time.Duration(pollMs)*time.Millisecond, capacity, kind); err != nil {
		return protocol.Error(err)
	}
	return protocol.Ok("")
}

func (h *Handler) EndProfile(protocol.Request) protocol.Response {
	if err := h.StopSession(); err != nil {
		return protocol.Error(err)
	}
	return protocol.Ok("")
}
