package notify

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/trigger"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/types"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/util"
)

// Zabbix protocol constants.
const (
	zabbixTimeout    = 5 * time.Second
	zabbixHeaderSize = 13        // "ZBXD\x01" (5) + uint64 length (8)
	maxReplySize     = 64 * 1024 // 64KB max reply to prevent memory exhaustion
)

// zabbixMagic is the protocol header prefix.
var zabbixMagic = [5]byte{'Z', 'B', 'X', 'D', 0x01}

// Zabbix protocol types.
type zabbixRequest struct {
	Request string       `json:"request"`
	Data    []zabbixItem `json:"data"`
}

type zabbixItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Clock int64  `json:"clock,omitempty"`
}

type zabbixResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// telemetryKeys lists the telemetry fields sent as trapper items, in order.
var telemetryKeys = []string{
	"level_db",
	"peak_db",
	"noise_floor_db",
	"threshold_db",
	"calibrated",
	"noise",
	"phase",
	"event_count",
	"failure_count",
	"samples_dropped",
}

// sendZabbixPayload sends a payload to the Zabbix server.
func sendZabbixPayload(server string, port int, payload zabbixRequest) error {
	addr := net.JoinHostPort(server, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, zabbixTimeout)
	if err != nil {
		return util.WrapError("connect to zabbix", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(zabbixTimeout)); err != nil {
		return util.WrapError("set deadline", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal zabbix payload", err)
	}

	// Build header: "ZBXD\x01" + 8-byte little endian length
	header := make([]byte, zabbixHeaderSize, zabbixHeaderSize+len(data))
	copy(header[0:5], zabbixMagic[:])
	binary.LittleEndian.PutUint64(header[5:], uint64(len(data)))

	if _, err := conn.Write(append(header, data...)); err != nil {
		return util.WrapError("write zabbix request", err)
	}

	// Read reply header
	replyHeader := make([]byte, zabbixHeaderSize)
	if _, err := io.ReadFull(conn, replyHeader); err != nil {
		return util.WrapError("read zabbix reply header", err)
	}
	if !bytes.Equal(replyHeader[0:5], zabbixMagic[:]) {
		return fmt.Errorf("invalid zabbix reply header")
	}

	replyLen := binary.LittleEndian.Uint64(replyHeader[5:zabbixHeaderSize])
	if replyLen == 0 {
		return fmt.Errorf("empty zabbix reply")
	}
	if replyLen > maxReplySize {
		return fmt.Errorf("zabbix reply too large: %d bytes (max %d)", replyLen, maxReplySize)
	}

	reply := make([]byte, replyLen)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return util.WrapError("read zabbix reply body", err)
	}

	var resp zabbixResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return util.WrapError("parse zabbix reply", err)
	}

	if resp.Response == "failed" {
		return fmt.Errorf("zabbix rejected data: %s", resp.Info)
	}

	// Host or key unknown to the server
	if strings.Contains(resp.Info, "processed: 0;") {
		return fmt.Errorf("zabbix processed no items (check host/key config): %s", resp.Info)
	}

	return nil
}

// sendZabbixItems sends items for the configured host.
func sendZabbixItems(cfg *types.ZabbixConfig, items []zabbixItem) error {
	if cfg.Server == "" || cfg.Host == "" || len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].Host = cfg.Host
	}
	return sendZabbixPayload(cfg.Server, cfg.Port, zabbixRequest{
		Request: "sender data",
		Data:    items,
	})
}

// SendEventZabbix sends a recording event to the configured event item key.
func SendEventZabbix(cfg *types.ZabbixConfig, ev *trigger.Event) error {
	if cfg.Key == "" {
		return nil
	}
	value := fmt.Sprintf("event=%s count=%d", strings.ToUpper(strings.TrimPrefix(string(ev.Kind), "recording_")), ev.EventCount)
	if ev.Path != "" {
		value += " file=" + ev.Path
	}
	if ev.Duration > 0 {
		value += " duration_ms=" + strconv.FormatInt(ev.Duration.Milliseconds(), 10)
	}
	if ev.Err != nil {
		value += " error=" + strconv.Quote(ev.Err.Error())
	}
	return sendZabbixItems(cfg, []zabbixItem{{Key: cfg.Key, Value: value, Clock: ev.Time.Unix()}})
}

// SendTelemetryZabbix sends every telemetry field as its own trapper item
// named <prefix>.<field> in a single request.
func SendTelemetryZabbix(cfg *types.ZabbixConfig, prefix string, t *types.Telemetry) error {
	fields := t.Fields()
	items := make([]zabbixItem, 0, len(telemetryKeys))
	for _, k := range telemetryKeys {
		items = append(items, zabbixItem{
			Key:   prefix + "." + k,
			Value: formatZabbixValue(fields[k]),
			Clock: t.Time.Unix(),
		})
	}
	return sendZabbixItems(cfg, items)
}

func formatZabbixValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', 1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(x)
	}
}

// SendTestZabbix sends a test message to verify Zabbix config.
func SendTestZabbix(cfg *types.ZabbixConfig) error {
	if cfg.Server == "" || cfg.Host == "" || cfg.Key == "" {
		return fmt.Errorf("zabbix server, host and key are required")
	}
	return sendZabbixItems(cfg, []zabbixItem{{Key: cfg.Key, Value: "event=TEST source=zwfm-noisetrigger"}})
}
