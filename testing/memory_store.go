package testing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
	"github.com/google/uuid"
)

// MemoryStore is an in-process stand-in for the database used by flow and scheduler tests.
// Every repository view shares one lock, so the conditional writes behave like the SQL
// versions: a write only applies when the row is still in the expected status.
type MemoryStore struct {
	mu sync.Mutex

	nextID uint

	batches    map[uint]*models.MassMessageBatch
	recipients map[uint]*models.MassMessageRecipient
	messages   map[uint]*models.ScheduledMessage
	contacts   map[uint]*models.Contact
	campaigns  map[uint]*models.Campaign
	groups     map[uint]*models.CampaignGroup
	templates  map[uint]*models.MessageTemplate
	channels   map[uint]*models.Channel
	audits     []*models.AuditLog

	// Hooks let tests inject failures or observe calls
	OnStatusOf func(batchID uint)
	FailSave   error
	FailSettle error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:    make(map[uint]*models.MassMessageBatch),
		recipients: make(map[uint]*models.MassMessageRecipient),
		messages:   make(map[uint]*models.ScheduledMessage),
		contacts:   make(map[uint]*models.Contact),
		campaigns:  make(map[uint]*models.Campaign),
		groups:     make(map[uint]*models.CampaignGroup),
		templates:  make(map[uint]*models.MessageTemplate),
		channels:   make(map[uint]*models.Channel),
	}
}

func (s *MemoryStore) id() uint {
	s.nextID++
	return s.nextID
}

// Seeding helpers. Zero ids are assigned from the shared sequence.

func (s *MemoryStore) AddContact(c *models.Contact) *models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	cp := *c
	s.contacts[c.ID] = &cp
	return c
}

func (s *MemoryStore) AddCampaign(c *models.Campaign) *models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	if c.Status == "" {
		c.Status = models.ActivityStatusActive
	}
	cp := *c
	s.campaigns[c.ID] = &cp
	return c
}

func (s *MemoryStore) AddGroup(g *models.CampaignGroup) *models.CampaignGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == 0 {
		g.ID = s.id()
	}
	if g.Status == "" {
		g.Status = models.ActivityStatusActive
	}
	cp := *g
	s.groups[g.ID] = &cp
	return g
}

func (s *MemoryStore) AddTemplate(t *models.MessageTemplate) *models.MessageTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.id()
	}
	cp := *t
	s.templates[t.ID] = &cp
	return t
}

func (s *MemoryStore) AddChannel(c *models.Channel) *models.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	if c.Status == "" {
		c.Status = models.ActivityStatusActive
	}
	cp := *c
	s.channels[c.ID] = &cp
	return c
}

// Batch returns a snapshot of the stored batch
func (s *MemoryStore) Batch(id uint) *models.MassMessageBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

// SetBatchStatus forces a status, bypassing transition rules
func (s *MemoryStore) SetBatchStatus(id uint, status models.BatchStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[id]; ok {
		b.Status = status
	}
}

// RecipientsOf returns snapshots of the batch's recipients in id order
func (s *MemoryStore) RecipientsOf(batchID uint) []*models.MassMessageRecipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.MassMessageRecipient
	for _, r := range s.recipients {
		if r.BatchID == batchID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Message returns a snapshot of the stored scheduled message
func (s *MemoryStore) Message(id uint) *models.ScheduledMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// AuditLogsOf returns snapshots of the company's audit rows in insertion order
func (s *MemoryStore) AuditLogsOf(companyID uint) []*models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AuditLog
	for _, a := range s.audits {
		if a.CompanyID != nil && *a.CompanyID == companyID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

// Template returns a snapshot of the stored template
func (s *MemoryStore) Template(id uint) *models.MessageTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// Repository views

func (s *MemoryStore) Batches() repository.MassMessageBatchRepository { return &memBatchRepo{s} }
func (s *MemoryStore) Recipients() repository.MassMessageRecipientRepository {
	return &memRecipientRepo{s}
}
func (s *MemoryStore) ScheduledMessages() repository.ScheduledMessageRepository {
	return &memMessageRepo{s}
}
func (s *MemoryStore) Contacts() repository.ContactRepository             { return &memContactRepo{s} }
func (s *MemoryStore) CampaignGroups() repository.CampaignGroupRepository { return &memGroupRepo{s} }
func (s *MemoryStore) Templates() repository.MessageTemplateRepository    { return &memTemplateRepo{s} }
func (s *MemoryStore) Channels() repository.ChannelRepository             { return &memChannelRepo{s} }
func (s *MemoryStore) AuditLogs() repository.AuditLogRepository           { return &memAuditRepo{s} }

// TxManager runs the unit of work directly; the store has no rollback
func (s *MemoryStore) TxManager() repository.TxManager { return memTxManager{} }

type memTxManager struct{}

func (memTxManager) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func newestFirst(orderBy string) bool {
	return strings.Contains(strings.ToUpper(orderBy), "DESC")
}

func page[T any](rows []*T, limit, offset int) []*T {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// ---- batches ----

type memBatchRepo struct{ s *MemoryStore }

func matchBatch(b *models.MassMessageBatch, f models.MassMessageBatchFilter) bool {
	switch {
	case f.ID != nil && b.ID != *f.ID:
		return false
	case f.UUID != nil && b.UUID != *f.UUID:
		return false
	case f.CompanyID != nil && b.CompanyID != *f.CompanyID:
		return false
	case f.ChannelID != nil && b.ChannelID != *f.ChannelID:
		return false
	case f.Status != nil && b.Status != *f.Status:
		return false
	case f.DueBefore != nil && b.DueAt.After(*f.DueBefore):
		return false
	case f.CreatedAfter != nil && b.CreatedAt.Before(*f.CreatedAfter):
		return false
	case f.CreatedBefore != nil && !b.CreatedAt.Before(*f.CreatedBefore):
		return false
	}
	return true
}

func (r *memBatchRepo) ByID(ctx context.Context, id uint) (*models.MassMessageBatch, error) {
	return r.s.Batch(id), nil
}

func (r *memBatchRepo) ByFilter(ctx context.Context, f models.MassMessageBatchFilter, orderBy string, limit, offset int) ([]*models.MassMessageBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.MassMessageBatch
	for _, b := range r.s.batches {
		if matchBatch(b, f) {
			cp := *b
			out = append(out, &cp)
		}
	}
	desc := newestFirst(orderBy)
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limit, offset), nil
}

func (r *memBatchRepo) Save(ctx context.Context, b *models.MassMessageBatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailSave != nil {
		return r.s.FailSave
	}
	if b.ID == 0 {
		b.ID = r.s.id()
	}
	if b.UUID == uuid.Nil {
		b.UUID = uuid.New()
	}
	if b.Status == "" {
		b.Status = models.BatchStatusScheduled
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	cp := *b
	r.s.batches[b.ID] = &cp
	return nil
}

func (r *memBatchRepo) SaveBatch(ctx context.Context, rows []*models.MassMessageBatch) error {
	for _, b := range rows {
		if err := r.Save(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (r *memBatchRepo) Count(ctx context.Context, f models.MassMessageBatchFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *memBatchRepo) Exists(ctx context.Context, f models.MassMessageBatchFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r *memBatchRepo) ByUUID(ctx context.Context, companyID uint, id uuid.UUID) (*models.MassMessageBatch, error) {
	rows, _ := r.ByFilter(ctx, models.MassMessageBatchFilter{UUID: &id, CompanyID: &companyID}, "", 1, 0)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *memBatchRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.MassMessageBatch, error) {
	status := models.BatchStatusScheduled
	rows, _ := r.ByFilter(ctx, models.MassMessageBatchFilter{Status: &status, DueBefore: &now}, "", 0, 0)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].DueAt.Before(rows[j].DueAt) })
	return page(rows, limit, 0), nil
}

func (r *memBatchRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.MassMessageBatch, error) {
	status := models.BatchStatusProcessing
	rows, _ := r.ByFilter(ctx, models.MassMessageBatchFilter{Status: &status}, "", 0, 0)
	var out []*models.MassMessageBatch
	for _, b := range rows {
		if b.HeartbeatAt == nil || b.HeartbeatAt.Before(cutoff) {
			out = append(out, b)
		}
	}
	return page(out, limit, 0), nil
}

func (r *memBatchRepo) ListFailedWithPending(ctx context.Context, limit int) ([]*models.MassMessageBatch, error) {
	status := models.BatchStatusFailed
	rows, _ := r.ByFilter(ctx, models.MassMessageBatchFilter{Status: &status}, "", 0, 0)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.MassMessageBatch
	for _, b := range rows {
		for _, row := range r.s.recipients {
			if row.BatchID == b.ID && row.Status == models.RecipientStatusPending {
				out = append(out, b)
				break
			}
		}
	}
	return page(out, limit, 0), nil
}

func (r *memBatchRepo) ClaimScheduled(ctx context.Context, id uint, now time.Time) (*models.MassMessageBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok || b.Status != models.BatchStatusScheduled {
		return nil, nil
	}
	b.Status = models.BatchStatusProcessing
	b.StartedAt = &now
	b.HeartbeatAt = &now
	b.UpdatedAt = now
	cp := *b
	return &cp, nil
}

func (r *memBatchRepo) ClaimStale(ctx context.Context, id uint, cutoff, now time.Time) (*models.MassMessageBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok || b.Status != models.BatchStatusProcessing {
		return nil, nil
	}
	if b.HeartbeatAt != nil && !b.HeartbeatAt.Before(cutoff) {
		return nil, nil
	}
	b.HeartbeatAt = &now
	b.UpdatedAt = now
	cp := *b
	return &cp, nil
}

func (r *memBatchRepo) StatusOf(ctx context.Context, id uint) (models.BatchStatus, error) {
	if hook := r.s.OnStatusOf; hook != nil {
		hook(id)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok {
		return "", fmt.Errorf("batch %d not found", id)
	}
	return b.Status, nil
}

func (r *memBatchRepo) Heartbeat(ctx context.Context, id uint, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b, ok := r.s.batches[id]; ok && b.Status == models.BatchStatusProcessing {
		b.HeartbeatAt = &now
	}
	return nil
}

func (r *memBatchRepo) Finish(ctx context.Context, id uint, status models.BatchStatus, counts models.RecipientCounts, errMsg *string, now time.Time) (bool, error) {
	if status != models.BatchStatusCompleted && status != models.BatchStatusFailed {
		return false, fmt.Errorf("invalid terminal status %s", status)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok || b.Status != models.BatchStatusProcessing {
		return false, nil
	}
	b.Status = status
	b.SentCount = counts.Sent
	b.FailedCount = counts.Failed
	b.CompletedAt = &now
	if errMsg != nil {
		msg := *errMsg
		b.ErrorMessage = &msg
	}
	return true, nil
}

func (r *memBatchRepo) Cancel(ctx context.Context, id uint, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok || !b.IsCancellable() {
		return false, nil
	}
	b.Status = models.BatchStatusCancelled
	b.CompletedAt = &now
	return true, nil
}

func (r *memBatchRepo) UpdateCounters(ctx context.Context, id uint, counts models.RecipientCounts) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b, ok := r.s.batches[id]; ok {
		b.SentCount = counts.Sent
		b.FailedCount = counts.Failed
	}
	return nil
}

// ---- recipients ----

type memRecipientRepo struct{ s *MemoryStore }

func matchRecipient(r *models.MassMessageRecipient, f models.MassMessageRecipientFilter) bool {
	switch {
	case f.ID != nil && r.ID != *f.ID:
		return false
	case f.BatchID != nil && r.BatchID != *f.BatchID:
		return false
	case f.Status != nil && r.Status != *f.Status:
		return false
	case f.TargetType != nil && r.TargetType != *f.TargetType:
		return false
	case f.Address != nil && r.Address != *f.Address:
		return false
	}
	return true
}

func (r *memRecipientRepo) ByID(ctx context.Context, id uint) (*models.MassMessageRecipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.recipients[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *memRecipientRepo) ByFilter(ctx context.Context, f models.MassMessageRecipientFilter, orderBy string, limit, offset int) ([]*models.MassMessageRecipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.MassMessageRecipient
	for _, row := range r.s.recipients {
		if matchRecipient(row, f) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limit, offset), nil
}

func (r *memRecipientRepo) Save(ctx context.Context, row *models.MassMessageRecipient) error {
	return r.SaveBatch(ctx, []*models.MassMessageRecipient{row})
}

func (r *memRecipientRepo) SaveBatch(ctx context.Context, rows []*models.MassMessageRecipient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailSave != nil {
		return r.s.FailSave
	}
	for _, row := range rows {
		if row.ID == 0 {
			row.ID = r.s.id()
		}
		if row.UUID == uuid.Nil {
			row.UUID = uuid.New()
		}
		if row.Status == "" {
			row.Status = models.RecipientStatusPending
		}
		cp := *row
		r.s.recipients[row.ID] = &cp
	}
	return nil
}

func (r *memRecipientRepo) Count(ctx context.Context, f models.MassMessageRecipientFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *memRecipientRepo) Exists(ctx context.Context, f models.MassMessageRecipientFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r *memRecipientRepo) ListPendingByBatch(ctx context.Context, batchID uint) ([]*models.MassMessageRecipient, error) {
	status := models.RecipientStatusPending
	return r.ByFilter(ctx, models.MassMessageRecipientFilter{BatchID: &batchID, Status: &status}, "", 0, 0)
}

func (r *memRecipientRepo) updatePending(id uint, apply func(row *models.MassMessageRecipient)) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.recipients[id]
	if !ok || row.Status != models.RecipientStatusPending {
		return false
	}
	apply(row)
	return true
}

func (r *memRecipientRepo) MarkSent(ctx context.Context, id uint, gatewayMessageID *string, sentAt time.Time) (bool, error) {
	return r.updatePending(id, func(row *models.MassMessageRecipient) {
		row.Status = models.RecipientStatusSent
		row.SentAt = &sentAt
		row.GatewayMessageID = gatewayMessageID
	}), nil
}

func (r *memRecipientRepo) MarkFailed(ctx context.Context, id uint, reason string) (bool, error) {
	return r.updatePending(id, func(row *models.MassMessageRecipient) {
		row.Status = models.RecipientStatusFailed
		row.FailureReason = &reason
	}), nil
}

func (r *memRecipientRepo) CancelPendingByBatch(ctx context.Context, batchID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, row := range r.s.recipients {
		if row.BatchID == batchID && row.Status == models.RecipientStatusPending {
			row.Status = models.RecipientStatusCancelled
			n++
		}
	}
	return n, nil
}

func (r *memRecipientRepo) FailPendingByBatch(ctx context.Context, batchID uint, reason string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailSettle != nil {
		return 0, r.s.FailSettle
	}
	var n int64
	for _, row := range r.s.recipients {
		if row.BatchID == batchID && row.Status == models.RecipientStatusPending {
			row.Status = models.RecipientStatusFailed
			why := reason
			row.FailureReason = &why
			n++
		}
	}
	return n, nil
}

func (r *memRecipientRepo) CountsByBatch(ctx context.Context, batchID uint) (models.RecipientCounts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var counts models.RecipientCounts
	for _, row := range r.s.recipients {
		if row.BatchID != batchID {
			continue
		}
		counts.Total++
		switch row.Status {
		case models.RecipientStatusPending:
			counts.Pending++
		case models.RecipientStatusSent:
			counts.Sent++
		case models.RecipientStatusFailed:
			counts.Failed++
		case models.RecipientStatusCancelled:
			counts.Cancelled++
		}
	}
	return counts, nil
}

// ---- single scheduled messages ----

type memMessageRepo struct{ s *MemoryStore }

func matchMessage(m *models.ScheduledMessage, f models.ScheduledMessageFilter) bool {
	switch {
	case f.ID != nil && m.ID != *f.ID:
		return false
	case f.UUID != nil && m.UUID != *f.UUID:
		return false
	case f.CompanyID != nil && m.CompanyID != *f.CompanyID:
		return false
	case f.ChannelID != nil && m.ChannelID != *f.ChannelID:
		return false
	case f.ContactID != nil && (m.ContactID == nil || *m.ContactID != *f.ContactID):
		return false
	case f.Status != nil && m.Status != *f.Status:
		return false
	case f.DueBefore != nil && m.ScheduledAt.After(*f.DueBefore):
		return false
	}
	return true
}

func (r *memMessageRepo) ByID(ctx context.Context, id uint) (*models.ScheduledMessage, error) {
	return r.s.Message(id), nil
}

func (r *memMessageRepo) ByFilter(ctx context.Context, f models.ScheduledMessageFilter, orderBy string, limit, offset int) ([]*models.ScheduledMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ScheduledMessage
	for _, m := range r.s.messages {
		if matchMessage(m, f) {
			cp := *m
			out = append(out, &cp)
		}
	}
	desc := newestFirst(orderBy)
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limit, offset), nil
}

func (r *memMessageRepo) Save(ctx context.Context, m *models.ScheduledMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailSave != nil {
		return r.s.FailSave
	}
	if m.ID == 0 {
		m.ID = r.s.id()
	}
	if m.UUID == uuid.Nil {
		m.UUID = uuid.New()
	}
	if m.Status == "" {
		m.Status = models.ScheduledMessageStatusPending
	}
	if m.MessageType == "" {
		m.MessageType = models.MessageTypeCustom
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	r.s.messages[m.ID] = &cp
	return nil
}

func (r *memMessageRepo) SaveBatch(ctx context.Context, rows []*models.ScheduledMessage) error {
	for _, m := range rows {
		if err := r.Save(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *memMessageRepo) Count(ctx context.Context, f models.ScheduledMessageFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *memMessageRepo) Exists(ctx context.Context, f models.ScheduledMessageFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r *memMessageRepo) ByUUID(ctx context.Context, companyID uint, id uuid.UUID) (*models.ScheduledMessage, error) {
	rows, _ := r.ByFilter(ctx, models.ScheduledMessageFilter{UUID: &id, CompanyID: &companyID}, "", 1, 0)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *memMessageRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error) {
	status := models.ScheduledMessageStatusPending
	rows, _ := r.ByFilter(ctx, models.ScheduledMessageFilter{Status: &status, DueBefore: &now}, "", 0, 0)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ScheduledAt.Before(rows[j].ScheduledAt) })
	return page(rows, limit, 0), nil
}

func (r *memMessageRepo) transition(id uint, from models.ScheduledMessageStatus, apply func(m *models.ScheduledMessage)) *models.ScheduledMessage {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok || m.Status != from {
		return nil
	}
	apply(m)
	cp := *m
	return &cp
}

func (r *memMessageRepo) Claim(ctx context.Context, id uint, now time.Time) (*models.ScheduledMessage, error) {
	return r.transition(id, models.ScheduledMessageStatusPending, func(m *models.ScheduledMessage) {
		m.Status = models.ScheduledMessageStatusProcessing
		m.ClaimedAt = &now
	}), nil
}

func (r *memMessageRepo) MarkSent(ctx context.Context, id uint, gatewayMessageID *string, sentAt time.Time) (bool, error) {
	return r.transition(id, models.ScheduledMessageStatusProcessing, func(m *models.ScheduledMessage) {
		m.Status = models.ScheduledMessageStatusSent
		m.SentAt = &sentAt
		m.GatewayMessageID = gatewayMessageID
	}) != nil, nil
}

func (r *memMessageRepo) MarkFailed(ctx context.Context, id uint, reason string) (bool, error) {
	return r.transition(id, models.ScheduledMessageStatusProcessing, func(m *models.ScheduledMessage) {
		m.Status = models.ScheduledMessageStatusFailed
		m.FailureReason = &reason
	}) != nil, nil
}

func (r *memMessageRepo) UpdatePending(ctx context.Context, msg *models.ScheduledMessage) (bool, error) {
	return r.transition(msg.ID, models.ScheduledMessageStatusPending, func(m *models.ScheduledMessage) {
		m.ChannelID = msg.ChannelID
		m.ContactID = msg.ContactID
		m.Phone = msg.Phone
		m.Body = msg.Body
		m.MessageType = msg.MessageType
		m.ScheduledAt = msg.ScheduledAt
		m.Timezone = msg.Timezone
	}) != nil, nil
}

func (r *memMessageRepo) CancelPending(ctx context.Context, id uint) (bool, error) {
	return r.transition(id, models.ScheduledMessageStatusPending, func(m *models.ScheduledMessage) {
		m.Status = models.ScheduledMessageStatusCancelled
	}) != nil, nil
}

func (r *memMessageRepo) FailStaleProcessing(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, m := range r.s.messages {
		if m.Status == models.ScheduledMessageStatusProcessing && m.ClaimedAt != nil && m.ClaimedAt.Before(cutoff) {
			m.Status = models.ScheduledMessageStatusFailed
			why := reason
			m.FailureReason = &why
			n++
		}
	}
	return n, nil
}

// ---- read-only views ----

type memContactRepo struct{ s *MemoryStore }

func (r *memContactRepo) ByID(ctx context.Context, id uint) (*models.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memContactRepo) ListByIDs(ctx context.Context, companyID uint, ids []uint) ([]*models.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[uint]bool, len(ids))
	var out []*models.Contact
	for _, id := range ids {
		c, ok := r.s.contacts[id]
		if !ok || c.CompanyID != companyID || seen[id] {
			continue
		}
		seen[id] = true
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

type memGroupRepo struct{ s *MemoryStore }

func (r *memGroupRepo) ListActiveByCampaigns(ctx context.Context, companyID uint, campaignIDs []uint) ([]*models.CampaignGroup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := make(map[uint]bool, len(campaignIDs))
	for _, id := range campaignIDs {
		if c, ok := r.s.campaigns[id]; ok && c.CompanyID == companyID && c.Status == models.ActivityStatusActive {
			wanted[id] = true
		}
	}
	var out []*models.CampaignGroup
	for _, g := range r.s.groups {
		if wanted[g.CampaignID] && g.CompanyID == companyID && g.Status == models.ActivityStatusActive {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CampaignID != out[j].CampaignID {
			return out[i].CampaignID < out[j].CampaignID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type memTemplateRepo struct{ s *MemoryStore }

func (r *memTemplateRepo) ByIDForCompany(ctx context.Context, companyID, id uint) (*models.MessageTemplate, error) {
	t := r.s.Template(id)
	if t == nil || t.CompanyID != companyID {
		return nil, nil
	}
	return t, nil
}

func (r *memTemplateRepo) IncrementUsage(ctx context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.templates[id]; ok {
		t.UsageCount++
	}
	return nil
}

type memChannelRepo struct{ s *MemoryStore }

func (r *memChannelRepo) ByID(ctx context.Context, id uint) (*models.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.channels[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memChannelRepo) ByIDForCompany(ctx context.Context, companyID, id uint) (*models.Channel, error) {
	c, _ := r.ByID(ctx, id)
	if c == nil || c.CompanyID != companyID {
		return nil, nil
	}
	return c, nil
}

// ---- audit log ----

type memAuditRepo struct{ s *MemoryStore }

func matchAudit(a *models.AuditLog, f models.AuditLogFilter) bool {
	switch {
	case f.ID != nil && a.ID != *f.ID:
		return false
	case f.CompanyID != nil && (a.CompanyID == nil || *a.CompanyID != *f.CompanyID):
		return false
	case f.Action != nil && a.Action != *f.Action:
		return false
	case f.Success != nil && (a.Success == nil || *a.Success != *f.Success):
		return false
	case f.RequestID != nil && (a.RequestID == nil || *a.RequestID != *f.RequestID):
		return false
	}
	return true
}

func (r *memAuditRepo) ByID(ctx context.Context, id uint) (*models.AuditLog, error) {
	rows, _ := r.ByFilter(ctx, models.AuditLogFilter{ID: &id}, "", 1, 0)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *memAuditRepo) ByFilter(ctx context.Context, f models.AuditLogFilter, orderBy string, limit, offset int) ([]*models.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.AuditLog
	for _, a := range r.s.audits {
		if matchAudit(a, f) {
			cp := *a
			out = append(out, &cp)
		}
	}
	if newestFirst(orderBy) {
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	}
	return page(out, limit, offset), nil
}

// Save ignores FailSave so failed writes can still be audited
func (r *memAuditRepo) Save(ctx context.Context, a *models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.ID == 0 {
		a.ID = r.s.id()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	r.s.audits = append(r.s.audits, &cp)
	return nil
}

func (r *memAuditRepo) SaveBatch(ctx context.Context, rows []*models.AuditLog) error {
	for _, a := range rows {
		if err := r.Save(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *memAuditRepo) Count(ctx context.Context, f models.AuditLogFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *memAuditRepo) Exists(ctx context.Context, f models.AuditLogFilter) (bool, error) {
	n, _ := r.Count(ctx, f)
	return n > 0, nil
}

func (r *memAuditRepo) ListByCompany(ctx context.Context, companyID uint, limit, offset int) ([]*models.AuditLog, error) {
	return r.ByFilter(ctx, models.AuditLogFilter{CompanyID: &companyID}, "created_at DESC", limit, offset)
}
