package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsline/fieldsync/internal/algorithm"
	"github.com/opsline/fieldsync/internal/model"
	"go.uber.org/zap"
)

const (
	metaDeviceClock     = "device_clock"
	metaLastPulledClock = "last_pulled_clock"
	metaLocalIDPrefix   = "localmap:"
)

// Config configures a device engine.
type Config struct {
	Path        string
	DeviceID    string
	TenantID    string
	BaseURL     string
	HTTPTimeout time.Duration
	MaxAttempts int
	Logger      *zap.Logger
}

// Device is the offline-first client engine. Every local edit lands durably in
// the operation log before it is visible anywhere else; Sync drains the log and
// reconciles the local mirror against the server.
type Device struct {
	cfg    Config
	db     *DB
	client *Client
	ops    *algorithm.VectorClockOps
	logger *zap.Logger

	mu              sync.Mutex
	clock           model.VectorClock
	lastPulledClock model.VectorClock
}

// SyncReport summarizes one sync round for the caller's UI.
type SyncReport struct {
	Pushed    int
	Applied   int
	Merged    int
	Conflicts int
	Rejected  int
	Pulled    int
}

// Open opens or creates the device database and restores persisted clocks.
func Open(cfg Config) (*Device, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}

	db, err := OpenDB(cfg.Path)
	if err != nil {
		return nil, err
	}

	d := &Device{
		cfg:             cfg,
		db:              db,
		client:          NewClient(cfg.BaseURL, cfg.TenantID, cfg.HTTPTimeout, cfg.MaxAttempts, cfg.Logger),
		ops:             algorithm.NewVectorClockOps(),
		logger:          cfg.Logger,
		clock:           model.NewVectorClock(),
		lastPulledClock: model.NewVectorClock(),
	}

	if _, err := db.getMeta(metaDeviceClock, &d.clock); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.getMeta(metaLastPulledClock, &d.lastPulledClock); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// Close closes the device database.
func (d *Device) Close() error {
	return d.db.Close()
}

// Clock returns a copy of the device's current vector clock.
func (d *Device) Clock() model.VectorClock {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock.Clone()
}

// RecordLocalChange records one local edit: the device clock component is
// incremented and snapshotted into the operation, the operation is appended to
// the durable log, and the change is applied optimistically to the local
// mirror. An empty entityID creates a new entity under a client-generated
// local id; the returned id is the one the caller should use until the next
// sync maps it to a server id.
func (d *Device) RecordLocalChange(entityType, entityID string, diffs map[string]model.FieldValue) (string, error) {
	if len(diffs) == 0 {
		return "", fmt.Errorf("empty change set")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	op := &model.Operation{
		OpID:       uuid.New().String(),
		DeviceID:   d.cfg.DeviceID,
		EntityType: entityType,
		Changes:    diffs,
		ClientTime: time.Now(),
	}

	localKey := entityID
	if entityID == "" {
		op.LocalID = "local-" + uuid.New().String()
		localKey = op.LocalID
	} else if strings.HasPrefix(entityID, "local-") {
		if serverID, err := d.resolveLocalID(entityID); err != nil {
			return "", err
		} else if serverID != "" {
			op.EntityID = serverID
			localKey = serverID
		} else {
			op.LocalID = entityID
		}
	} else {
		op.EntityID = entityID
	}

	newClock := d.ops.Increment(d.clock, d.cfg.DeviceID)
	op.Clock = newClock.Clone()

	entity, err := d.db.getEntity(localKey)
	if err != nil {
		return "", err
	}
	if entity == nil {
		entity = &LocalEntity{
			ID:     localKey,
			Type:   entityType,
			Fields: make(map[string]model.FieldValue),
			Clock:  model.NewVectorClock(),
		}
	}
	for name, value := range diffs {
		entity.Fields[name] = value
	}
	entity.Clock = d.ops.Merge(entity.Clock, newClock)

	tx, err := d.db.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := d.db.appendOp(tx, op); err != nil {
		return "", err
	}
	if err := d.db.putEntity(tx, entity); err != nil {
		return "", err
	}
	if err := d.db.setMeta(tx, metaDeviceClock, newClock); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit local change: %w", err)
	}

	d.clock = newClock
	return localKey, nil
}

// GetEntity returns the local view of one entity plus its locally known
// conflict records. Local ids created offline resolve to their server id once
// a sync has mapped them.
func (d *Device) GetEntity(id string) (*LocalEntity, []*model.ConflictRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	lookup := id
	if serverID, err := d.resolveLocalID(id); err != nil {
		return nil, nil, err
	} else if serverID != "" {
		lookup = serverID
	}

	entity, err := d.db.getEntity(lookup)
	if err != nil {
		return nil, nil, err
	}
	if entity == nil {
		return nil, nil, ErrEntityNotFound
	}

	conflicts, err := d.db.entityConflicts(lookup)
	if err != nil {
		return nil, nil, err
	}
	return entity, conflicts, nil
}

// Rejections lists permanently rejected local operations for the UI.
func (d *Device) Rejections() ([]*Rejection, error) {
	return d.db.Rejections()
}

// PendingOps returns the number of unacknowledged local operations.
func (d *Device) PendingOps() (int, error) {
	return d.db.PendingCount()
}

// Sync runs one full sync round: drain the operation log in insertion order,
// push in one batch, settle each result, then pull server state since the last
// pulled clock and apply it to the local mirror. Server state wins locally;
// any still-pending log entries re-assert their changes on the next push.
func (d *Device) Sync(ctx context.Context) (*SyncReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := &SyncReport{}

	pending, err := d.db.PendingOps(d.cfg.DeviceID)
	if err != nil {
		return nil, err
	}

	if len(pending) > 0 {
		operations := make([]*model.Operation, len(pending))
		for i, p := range pending {
			operations[i] = p.Operation
		}

		resp, err := d.client.Push(ctx, &model.PushRequest{
			DeviceID:    d.cfg.DeviceID,
			DeviceClock: d.clock.Clone(),
			Operations:  operations,
		})
		if err != nil {
			return nil, fmt.Errorf("push failed: %w", err)
		}

		report.Pushed = len(operations)
		for _, result := range resp.Results {
			if err := d.settleResult(result, report); err != nil {
				return nil, err
			}
		}
	}

	pullResp, err := d.client.Pull(ctx, &model.PullRequest{
		DeviceID:   d.cfg.DeviceID,
		SinceClock: d.lastPulledClock.Clone(),
	})
	if err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}

	for _, entity := range pullResp.Entities {
		if err := d.applyPulledEntity(entity); err != nil {
			return nil, err
		}
	}
	report.Pulled = len(pullResp.Entities)

	if err := d.db.replaceConflicts(pullResp.Conflicts); err != nil {
		return nil, err
	}

	// The pulled server clock folds into the device clock so future edits are
	// causally ahead of everything the device has seen.
	newClock := d.ops.Merge(d.clock, pullResp.ServerClock)
	if err := d.db.setMeta(nil, metaDeviceClock, newClock); err != nil {
		return nil, err
	}
	if err := d.db.setMeta(nil, metaLastPulledClock, pullResp.ServerClock); err != nil {
		return nil, err
	}
	d.clock = newClock
	d.lastPulledClock = pullResp.ServerClock.Clone()

	d.logger.Info("Sync round complete",
		zap.Int("pushed", report.Pushed),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("rejected", report.Rejected),
		zap.Int("pulled", report.Pulled))

	return report, nil
}

// settleResult handles one push result: terminal outcomes acknowledge the log
// entry; rejections additionally surface to the UI.
func (d *Device) settleResult(result *model.OperationResult, report *SyncReport) error {
	switch result.Status {
	case model.OpStatusRejected:
		report.Rejected++
		if err := d.db.RecordRejection(result.OpID, result.EntityID, result.Rejection); err != nil {
			return err
		}
	case model.OpStatusApplied:
		report.Applied++
	case model.OpStatusMerged:
		report.Merged++
	case model.OpStatusConflict:
		report.Conflicts += len(result.Conflicts)
		if err := d.db.storeConflicts(result.Conflicts); err != nil {
			return err
		}
	}

	if result.LocalID != "" && result.EntityID != "" {
		if err := d.db.setMeta(nil, metaLocalIDPrefix+result.LocalID, result.EntityID); err != nil {
			return err
		}
		if err := d.db.rekeyEntity(result.LocalID, result.EntityID); err != nil {
			return err
		}
	}

	if result.Clock != nil {
		d.clock = d.ops.Merge(d.clock, result.Clock)
	}

	return d.db.AcknowledgeOp(result.OpID)
}

// applyPulledEntity overwrites the local mirror with pulled server state.
func (d *Device) applyPulledEntity(entity *model.Entity) error {
	local := &LocalEntity{
		ID:      entity.ID,
		Type:    entity.Type,
		Fields:  make(map[string]model.FieldValue, len(entity.Fields)),
		Clock:   entity.Clock.Clone(),
		Deleted: entity.Deleted,
	}
	for name, state := range entity.Fields {
		local.Fields[name] = state.Value
	}
	return d.db.putEntity(nil, local)
}

// resolveLocalID returns the server id mapped to a local id, empty when the
// mapping is not yet known.
func (d *Device) resolveLocalID(id string) (string, error) {
	if !strings.HasPrefix(id, "local-") {
		return "", nil
	}
	var serverID string
	ok, err := d.db.getMeta(metaLocalIDPrefix+id, &serverID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return serverID, nil
}
