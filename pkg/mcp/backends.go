package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/config"
)

// Broker operation names. Servers expose these as tools; a server whose
// tools are named differently remaps them in its config.
const (
	OpQueryThreats      = "query_threats"
	OpQueryMissions     = "query_missions"
	OpQueryAllocations  = "query_allocations"
	OpQueryAssets       = "query_assets"
	OpCheckConflicts    = "check_conflicts"
	OpCreateAllocation  = "create_allocation"
	OpFindAvailable     = "find_available"
	OpQueryAvailability = "query_availability"
	OpReserveAsset      = "reserve_asset"
)

// store is the shared base for every MCP-backed broker backend: one server
// session plus the tool-name mapping from its config.
type store struct {
	client   *Client
	serverID string
	cfg      *config.MCPServerConfig
}

func newStore(client *Client, serverID string) (store, error) {
	cfg, err := client.registry.Get(serverID)
	if err != nil {
		return store{}, err
	}
	return store{client: client, serverID: serverID, cfg: cfg}, nil
}

// call runs a broker operation as a tool call and decodes the result rows.
func (s store) call(ctx context.Context, operation string, args map[string]any) ([]broker.Record, error) {
	result, err := s.client.CallTool(ctx, s.serverID, s.cfg.ToolName(operation), args)
	if err != nil {
		return nil, fmt.Errorf("store %s.%s: %w", s.serverID, operation, err)
	}
	return decodeRecords(result)
}

// callOne runs an operation expected to return exactly one record.
func (s store) callOne(ctx context.Context, operation string, args map[string]any) (broker.Record, error) {
	records, err := s.call(ctx, operation, args)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("store %s.%s: empty result", s.serverID, operation)
	}
	return records[0], nil
}

// ThreatStore serves threat intelligence queries from an MCP store server.
type ThreatStore struct {
	store
}

// NewThreatStore creates a threat backend over the client's session to serverID.
func NewThreatStore(client *Client, serverID string) (*ThreatStore, error) {
	s, err := newStore(client, serverID)
	if err != nil {
		return nil, err
	}
	return &ThreatStore{store: s}, nil
}

func (t *ThreatStore) Query(ctx context.Context, params map[string]any) ([]broker.Record, error) {
	return t.call(ctx, OpQueryThreats, params)
}

// MissionStore serves mission plan queries from an MCP store server.
type MissionStore struct {
	store
}

// NewMissionStore creates a mission backend over the client's session to serverID.
func NewMissionStore(client *Client, serverID string) (*MissionStore, error) {
	s, err := newStore(client, serverID)
	if err != nil {
		return nil, err
	}
	return &MissionStore{store: s}, nil
}

func (m *MissionStore) Query(ctx context.Context, params map[string]any) ([]broker.Record, error) {
	return m.call(ctx, OpQueryMissions, params)
}

// SpectrumStore serves spectrum allocation operations from an MCP store
// server. Implements broker.SpectrumBackend.
type SpectrumStore struct {
	store
}

// NewSpectrumStore creates a spectrum backend over the client's session to serverID.
func NewSpectrumStore(client *Client, serverID string) (*SpectrumStore, error) {
	s, err := newStore(client, serverID)
	if err != nil {
		return nil, err
	}
	return &SpectrumStore{store: s}, nil
}

func (s *SpectrumStore) Query(ctx context.Context, params map[string]any) ([]broker.Record, error) {
	return s.call(ctx, OpQueryAllocations, params)
}

func (s *SpectrumStore) CheckConflicts(ctx context.Context, freqMinMHz, freqMaxMHz float64, start, end time.Time, area string) ([]broker.Record, error) {
	return s.call(ctx, OpCheckConflicts, map[string]any{
		"freq_min_mhz": freqMinMHz,
		"freq_max_mhz": freqMaxMHz,
		"start_time":   start.UTC().Format(time.RFC3339),
		"end_time":     end.UTC().Format(time.RFC3339),
		"area":         area,
	})
}

func (s *SpectrumStore) CreateAllocation(ctx context.Context, allocation broker.Record) (broker.Record, error) {
	return s.callOne(ctx, OpCreateAllocation, allocation)
}

func (s *SpectrumStore) FindAvailable(ctx context.Context, bandwidthMHz float64, start, end time.Time, area string) ([]broker.Record, error) {
	return s.call(ctx, OpFindAvailable, map[string]any{
		"bandwidth_mhz": bandwidthMHz,
		"start_time":    start.UTC().Format(time.RFC3339),
		"end_time":      end.UTC().Format(time.RFC3339),
		"area":          area,
	})
}

// AssetStore serves EMS asset queries and reservations from an MCP store
// server. Implements broker.AssetBackend.
type AssetStore struct {
	store
}

// NewAssetStore creates an asset backend over the client's session to serverID.
func NewAssetStore(client *Client, serverID string) (*AssetStore, error) {
	s, err := newStore(client, serverID)
	if err != nil {
		return nil, err
	}
	return &AssetStore{store: s}, nil
}

func (a *AssetStore) Query(ctx context.Context, params map[string]any) ([]broker.Record, error) {
	return a.call(ctx, OpQueryAssets, params)
}

func (a *AssetStore) QueryAvailability(ctx context.Context, assetTypes []string, start, end time.Time, capabilities []string) ([]broker.Record, error) {
	return a.call(ctx, OpQueryAvailability, map[string]any{
		"asset_types":  assetTypes,
		"capabilities": capabilities,
		"start_time":   start.UTC().Format(time.RFC3339),
		"end_time":     end.UTC().Format(time.RFC3339),
	})
}

func (a *AssetStore) Reserve(ctx context.Context, assetID, missionID string, start, end time.Time) (broker.Record, error) {
	return a.callOne(ctx, OpReserveAsset, map[string]any{
		"asset_id":   assetID,
		"mission_id": missionID,
		"start_time": start.UTC().Format(time.RFC3339),
		"end_time":   end.UTC().Format(time.RFC3339),
	})
}

// decodeRecords extracts result rows from a tool call result. Servers return
// JSON in text content: either an array of objects, an object with a
// "records" array, or a single object.
func decodeRecords(result *mcpsdk.CallToolResult) ([]broker.Record, error) {
	text := textContent(result)
	if result.IsError {
		return nil, fmt.Errorf("store error: %s", text)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var asList []broker.Record
	if err := json.Unmarshal([]byte(text), &asList); err == nil {
		return asList, nil
	}

	var asObject map[string]any
	if err := json.Unmarshal([]byte(text), &asObject); err != nil {
		return nil, fmt.Errorf("decode store result: %w", err)
	}
	if raw, ok := asObject["records"]; ok {
		rows, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("decode store result: records is not a list")
		}
		records := make([]broker.Record, 0, len(rows))
		for _, row := range rows {
			record, ok := row.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("decode store result: record is not an object")
			}
			records = append(records, record)
		}
		return records, nil
	}
	return []broker.Record{asObject}, nil
}

// textContent concatenates the text parts of a tool result.
func textContent(result *mcpsdk.CallToolResult) string {
	var b strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String()
}
