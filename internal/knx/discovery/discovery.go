// Package discovery passively records group addresses and device
// individual addresses seen on the bus, building a queryable inventory
// without requiring the operator to enumerate every address up front.
//
// A Recorder is fed every cEMI frame the gateway observes (tunneling
// indications, routing indications, or raw bus-monitor frames) and
// upserts the source device and destination group address into SQLite.
package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nerrad567/knx-gateway/internal/knx/address"
	"github.com/nerrad567/knx-gateway/internal/knx/apdu"
	"github.com/nerrad567/knx-gateway/internal/knx/cemi"
)

// Recorder passively records group addresses and device individual
// addresses observed on the bus. It is fed frames by the gateway's
// orchestration layer as they arrive from the tunnel or routing client.
//
// All methods are safe for concurrent use.
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger

	gaUpsertStmt     *sql.Stmt
	deviceUpsertStmt *sql.Stmt
	stmtMu           sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// New creates a Recorder backed by db. The database must already have the
// knx_group_addresses and knx_devices tables (see the package migrations).
func New(db *sql.DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, logger: logger}
}

// Start prepares the upsert statements. Must be called before RecordFrame.
func (r *Recorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.gaUpsertStmt != nil {
		return nil
	}

	gaStmt, err := r.db.Prepare(`
		INSERT INTO knx_group_addresses (group_address, last_seen, message_count, has_read_response)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(group_address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1,
			has_read_response = MAX(has_read_response, excluded.has_read_response)
	`)
	if err != nil {
		return fmt.Errorf("knx/discovery: preparing GA upsert: %w", err)
	}

	deviceStmt, err := r.db.Prepare(`
		INSERT INTO knx_devices (individual_address, last_seen, message_count)
		VALUES (?, ?, 1)
		ON CONFLICT(individual_address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1
	`)
	if err != nil {
		gaStmt.Close()
		return fmt.Errorf("knx/discovery: preparing device upsert: %w", err)
	}

	r.gaUpsertStmt = gaStmt
	r.deviceUpsertStmt = deviceStmt
	r.logger.Info("discovery recorder started")
	return nil
}

// Stop releases the prepared statements.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	if r.gaUpsertStmt != nil {
		r.gaUpsertStmt.Close()
		r.gaUpsertStmt = nil
	}
	if r.deviceUpsertStmt != nil {
		r.deviceUpsertStmt.Close()
		r.deviceUpsertStmt = nil
	}
	r.logger.Info("discovery recorder stopped")
}

// RecordFrame extracts the source device and destination group address
// from a group-addressed L_Data frame and upserts both. Frames addressed
// to an individual address (point-to-point) are ignored: this recorder
// only builds an inventory of group communication.
func (r *Recorder) RecordFrame(frame cemi.Frame) {
	if !frame.Ctrl2.IsGroupDestination() {
		return
	}
	r.recordTelegram(
		address.IndividualFromUint16(frame.Src).String(),
		address.GroupFromUint16(frame.Dst).String(),
		isGroupValueResponse(frame.TPDU),
	)
}

func isGroupValueResponse(tpdu []byte) bool {
	_, a, err := apdu.Decode(tpdu, len(tpdu) == 2)
	if err != nil {
		return false
	}
	return a.Command == apdu.GroupValueResponse
}

func (r *Recorder) recordTelegram(source, ga string, isResponse bool) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()

	r.stmtMu.Lock()
	gaStmt := r.gaUpsertStmt
	deviceStmt := r.deviceUpsertStmt
	r.stmtMu.Unlock()

	if gaStmt == nil || deviceStmt == nil {
		return
	}

	now := time.Now().Unix()

	if source != "" && source != "0.0.0" {
		if _, err := deviceStmt.Exec(source, now); err != nil {
			r.logger.Error("recording device", "error", err)
		}
	}

	hasResponse := 0
	if isResponse {
		hasResponse = 1
	}
	if _, err := gaStmt.Exec(ga, now, hasResponse); err != nil {
		r.logger.Error("recording group address", "error", err)
	}
}

// KnownGroupAddresses returns the most recently seen group addresses, most
// recent first, up to limit entries.
func (r *Recorder) KnownGroupAddresses(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_address FROM knx_group_addresses
		ORDER BY last_seen DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, rows.Err()
}

// GroupAddressCount returns the number of discovered group addresses.
func (r *Recorder) GroupAddressCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knx_group_addresses`).Scan(&count)
	return count, err
}

// DeviceCount returns the number of discovered devices.
func (r *Recorder) DeviceCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knx_devices`).Scan(&count)
	return count, err
}
