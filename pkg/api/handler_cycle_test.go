package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/orchestrator"
)

func TestStartCycle(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/cycles", StartCycleRequest{CycleID: "ATO-0042"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var response StartCycleResponse
	decodeJSON(t, rec, &response)
	assert.Equal(t, "ATO-0042", response.CycleID)
	assert.Equal(t, string(ems.PhaseOEG), response.Phase)
	assert.Equal(t, orchestrator.StatusActive, response.Status)

	// A second cycle conflicts while the first is active.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/cycles", StartCycleRequest{CycleID: "ATO-0043"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unless the caller asks for the active one to be cancelled.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/cycles", StartCycleRequest{CycleID: "ATO-0043", CancelActive: true})
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeJSON(t, rec, &response)
	assert.Equal(t, "ATO-0043", response.CycleID)
}

func TestCurrentCycle(t *testing.T) {
	s, k := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/cycles/current", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := k.StartCycle("ATO-0001", false)
	require.NoError(t, err)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/cycles/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary orchestrator.Summary
	decodeJSON(t, rec, &summary)
	assert.Equal(t, "ATO-0001", summary.CycleID)
	assert.Equal(t, ems.PhaseOEG, summary.Phase)
}

func TestAdvancePhase(t *testing.T) {
	s, _ := newTestServer(t)

	// No active cycle yet.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/cycles/advance", AdvancePhaseRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/cycles", StartCycleRequest{CycleID: "ATO-0001"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/cycles/advance", AdvancePhaseRequest{})
	require.Equal(t, http.StatusOK, rec.Code)

	var response AdvancePhaseResponse
	decodeJSON(t, rec, &response)
	assert.Equal(t, string(ems.PhaseTargetDevelopment), response.Phase)
}

func TestAdvancePhaseUnknownTarget(t *testing.T) {
	s, k := newTestServer(t)
	_, err := k.StartCycle("ATO-0001", false)
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/cycles/advance", AdvancePhaseRequest{Target: "PHASE9_BOGUS"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSkipToPhaseWithOverride(t *testing.T) {
	s, k := newTestServer(t)
	_, err := k.StartCycle("ATO-0001", false)
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/cycles/advance", AdvancePhaseRequest{
		Target:     string(ems.PhaseWeaponeering),
		ApprovedBy: "col.harris",
		Reason:     "compressed timeline",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var response AdvancePhaseResponse
	decodeJSON(t, rec, &response)
	assert.Equal(t, string(ems.PhaseWeaponeering), response.Phase)
}

func TestSkipOverCriticalPhaseRejected(t *testing.T) {
	s, k := newTestServer(t)
	_, err := k.StartCycle("ATO-0001", false)
	require.NoError(t, err)

	// Jumping to execution would skip weaponeering and ATO production.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/cycles/advance", AdvancePhaseRequest{
		Target:     string(ems.PhaseExecution),
		ApprovedBy: "col.harris",
		Reason:     "compressed timeline",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSkipBackwardRejected(t *testing.T) {
	s, k := newTestServer(t)
	_, err := k.StartCycle("ATO-0001", false)
	require.NoError(t, err)
	_, err = k.AdvancePhase()
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/cycles/advance", AdvancePhaseRequest{
		Target:     string(ems.PhaseOEG),
		ApprovedBy: "col.harris",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCyclesWithoutPersistence(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/cycles", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
