package repository

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"crmsync/internal/models"
	"crmsync/internal/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultChunkSize is the bulk-write chunk size when callers pass zero.
// Chunk size trades transaction size against write amplification.
const DefaultChunkSize = 100

// BatchError records one per-record failure inside a batch operation.
type BatchError struct {
	ContactID     uint   `json:"contactId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	Message       string `json:"message"`
}

// BatchResult is the partial-failure result contract of the batch write
// paths. Partial success is the normal case, not an exception.
type BatchResult struct {
	SuccessCount      int
	FailureCount      int
	Errors            []BatchError
	CreatedContactIDs []uint
	UpdatedContactIDs []uint
}

// Merge folds another result into this one.
func (r *BatchResult) Merge(other *BatchResult) {
	if other == nil {
		return
	}
	r.SuccessCount += other.SuccessCount
	r.FailureCount += other.FailureCount
	r.Errors = append(r.Errors, other.Errors...)
	r.CreatedContactIDs = append(r.CreatedContactIDs, other.CreatedContactIDs...)
	r.UpdatedContactIDs = append(r.UpdatedContactIDs, other.UpdatedContactIDs...)
}

// StagePatch moves a contact into a pipeline stage.
type StagePatch struct {
	PipelineID uint
	StageID    uint
	EnteredAt  time.Time
}

// ContactPatch is a typed partial update for one contact. Only non-nil
// fields are written. Patches with the same field-set are grouped so a
// future bulk path can handle each shape in one statement.
type ContactPatch struct {
	ContactID       uint
	ParticipantID   string
	Name            *string
	HasMessenger    *bool
	HasInstagram    *bool
	LastInteraction *time.Time
	AIContext       *string
	LeadScore       *int
	Stage           *StagePatch
}

// Fields assembles the column map for a GORM Updates call.
func (p ContactPatch) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	if p.Name != nil {
		fields["name"] = *p.Name
	}
	if p.HasMessenger != nil {
		fields["has_messenger"] = *p.HasMessenger
	}
	if p.HasInstagram != nil {
		fields["has_instagram"] = *p.HasInstagram
	}
	if p.LastInteraction != nil {
		fields["last_interaction"] = *p.LastInteraction
	}
	if p.AIContext != nil {
		fields["ai_context"] = *p.AIContext
	}
	if p.LeadScore != nil {
		fields["lead_score"] = *p.LeadScore
	}
	if p.Stage != nil {
		fields["pipeline_id"] = p.Stage.PipelineID
		fields["stage_id"] = p.Stage.StageID
		fields["stage_entered_at"] = p.Stage.EnteredAt
	}
	return fields
}

// shapeKey returns a stable key identifying the patch's field-set.
func (p ContactPatch) shapeKey() string {
	fields := p.Fields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// ContactRepository handles database operations for Contact
type ContactRepository struct {
	db     *gorm.DB
	logger *utils.Logger
}

// NewContactRepository creates a new ContactRepository
func NewContactRepository(db *gorm.DB) *ContactRepository {
	return &ContactRepository{db: db, logger: utils.NewLogger("ContactRepository")}
}

// GetByParticipantAndPage retrieves a contact by its identity key.
func (r *ContactRepository) GetByParticipantAndPage(participantID string, pageID uint) (*models.Contact, error) {
	var contact models.Contact
	err := r.db.Where("participant_id = ? AND page_id = ?", participantID, pageID).First(&contact).Error
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// GetByPage retrieves contacts for a page, newest interaction first.
func (r *ContactRepository) GetByPage(pageID uint, limit, offset int) ([]models.Contact, error) {
	var contacts []models.Contact
	query := r.db.Where("page_id = ?", pageID).Order("last_interaction DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	err := query.Find(&contacts).Error
	return contacts, err
}

// ExistingIDs maps participant ids that already have a contact row on the
// page to their primary keys.
func (r *ContactRepository) ExistingIDs(pageID uint, participantIDs []string) (map[string]uint, error) {
	result := make(map[string]uint, len(participantIDs))
	if len(participantIDs) == 0 {
		return result, nil
	}
	var rows []models.Contact
	err := r.db.Select("id", "participant_id").
		Where("page_id = ? AND participant_id IN ?", pageID, participantIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.ParticipantID] = row.ID
	}
	return result, nil
}

// GetCount returns the total count of contacts for a page.
func (r *ContactRepository) GetCount(pageID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Contact{}).Where("page_id = ?", pageID).Count(&count).Error
	return count, err
}

// BatchCreate inserts new contacts in chunks. The bulk path silently skips
// rows conflicting on (participant_id, page_id) and re-queries generated ids
// for the inserted subset. When a chunk's bulk insert fails outright, the
// chunk degrades to per-record upserts so one bad row cannot sink the rest.
func (r *ContactRepository) BatchCreate(contacts []models.Contact, chunkSize int) *BatchResult {
	result := &BatchResult{}
	if len(contacts) == 0 {
		return result
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	for start := 0; start < len(contacts); start += chunkSize {
		end := start + chunkSize
		if end > len(contacts) {
			end = len(contacts)
		}
		r.createChunk(contacts[start:end], result)
	}
	return result
}

func (r *ContactRepository) createChunk(chunk []models.Contact, result *BatchResult) {
	// Existing keys are resolved up front: OnConflict DoNothing reports no
	// per-row outcome, so the inserted subset is chunk minus pre-existing.
	byPage := make(map[uint][]string)
	for _, c := range chunk {
		byPage[c.PageID] = append(byPage[c.PageID], c.ParticipantID)
	}
	existing := make(map[string]uint)
	for pageID, ids := range byPage {
		found, err := r.ExistingIDs(pageID, ids)
		if err != nil {
			r.logger.Warn("Pre-insert key lookup failed for page %d: %v", pageID, err)
			r.fallbackChunk(chunk, result)
			return
		}
		for pid, id := range found {
			existing[contactKey(pid, pageID)] = id
		}
	}

	toInsert := make([]models.Contact, 0, len(chunk))
	for _, c := range chunk {
		if _, dup := existing[contactKey(c.ParticipantID, c.PageID)]; !dup {
			toInsert = append(toInsert, c)
		}
	}

	if len(toInsert) > 0 {
		err := r.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_id"}, {Name: "page_id"}},
			DoNothing: true,
		}).Create(&toInsert).Error
		if err != nil {
			r.logger.Warn("Bulk insert failed for chunk of %d, falling back to per-record upserts: %v", len(chunk), err)
			r.fallbackChunk(chunk, result)
			return
		}
	}

	// Re-query to recover generated ids; Create fills IDs for inserted rows,
	// but rows skipped by a concurrent writer's conflict come back here too.
	for _, c := range toInsert {
		id := c.ID
		if id == 0 {
			row, err := r.GetByParticipantAndPage(c.ParticipantID, c.PageID)
			if err != nil {
				result.FailureCount++
				result.Errors = append(result.Errors, BatchError{
					ParticipantID: c.ParticipantID,
					Message:       fmt.Sprintf("failed to recover id after insert: %v", err),
				})
				continue
			}
			id = row.ID
		}
		result.SuccessCount++
		result.CreatedContactIDs = append(result.CreatedContactIDs, id)
	}

	// Duplicates were skipped, not failed: the row is present either way.
	result.SuccessCount += len(chunk) - len(toInsert)
}

// fallbackChunk resolves each record individually as create-or-update keyed
// on (participant_id, page_id), recording failures without aborting.
func (r *ContactRepository) fallbackChunk(chunk []models.Contact, result *BatchResult) {
	for i := range chunk {
		c := chunk[i]
		existing, err := r.GetByParticipantAndPage(c.ParticipantID, c.PageID)
		if err == nil {
			updates := map[string]interface{}{
				"name":          c.Name,
				"has_messenger": existing.HasMessenger || c.HasMessenger,
				"has_instagram": existing.HasInstagram || c.HasInstagram,
			}
			if c.LastInteraction != nil {
				updates["last_interaction"] = *c.LastInteraction
			}
			if c.AIContext != "" {
				updates["ai_context"] = c.AIContext
			}
			if c.LeadScore != 0 {
				updates["lead_score"] = c.LeadScore
			}
			if err := r.db.Model(&models.Contact{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
				result.FailureCount++
				result.Errors = append(result.Errors, BatchError{
					ContactID:     existing.ID,
					ParticipantID: c.ParticipantID,
					Message:       fmt.Sprintf("fallback update failed: %v", err),
				})
				continue
			}
			result.SuccessCount++
			result.UpdatedContactIDs = append(result.UpdatedContactIDs, existing.ID)
			continue
		}
		if err != gorm.ErrRecordNotFound {
			result.FailureCount++
			result.Errors = append(result.Errors, BatchError{
				ParticipantID: c.ParticipantID,
				Message:       fmt.Sprintf("fallback lookup failed: %v", err),
			})
			continue
		}
		if err := r.db.Create(&c).Error; err != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, BatchError{
				ParticipantID: c.ParticipantID,
				Message:       fmt.Sprintf("fallback create failed: %v", err),
			})
			continue
		}
		result.SuccessCount++
		result.CreatedContactIDs = append(result.CreatedContactIDs, c.ID)
	}
}

// updateParallelism bounds concurrent per-record updates inside one chunk.
const updateParallelism = 5

// BatchUpdate applies heterogeneous partial updates, grouped by field-set,
// with bounded parallelism per chunk. Per-record failures are captured, not
// fatal.
func (r *ContactRepository) BatchUpdate(patches []ContactPatch, chunkSize int) *BatchResult {
	result := &BatchResult{}
	if len(patches) == 0 {
		return result
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	// Group by shape so identical field-sets travel together.
	shapes := make(map[string][]ContactPatch)
	var order []string
	for _, p := range patches {
		key := p.shapeKey()
		if key == "" {
			continue // empty patch, nothing to write
		}
		if _, seen := shapes[key]; !seen {
			order = append(order, key)
		}
		shapes[key] = append(shapes[key], p)
	}

	for _, key := range order {
		group := shapes[key]
		for start := 0; start < len(group); start += chunkSize {
			end := start + chunkSize
			if end > len(group) {
				end = len(group)
			}
			r.updateChunk(group[start:end], result)
		}
	}
	return result
}

func (r *ContactRepository) updateChunk(chunk []ContactPatch, result *BatchResult) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, updateParallelism)
	)
	for i := range chunk {
		patch := chunk[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := r.db.Model(&models.Contact{}).Where("id = ?", patch.ContactID).Updates(patch.Fields()).Error

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailureCount++
				result.Errors = append(result.Errors, BatchError{
					ContactID:     patch.ContactID,
					ParticipantID: patch.ParticipantID,
					Message:       fmt.Sprintf("update failed: %v", err),
				})
				return
			}
			result.SuccessCount++
			result.UpdatedContactIDs = append(result.UpdatedContactIDs, patch.ContactID)
		}()
	}
	wg.Wait()
}

// BatchUpsert partitions records into creates and updates (a known existing
// id decides the branch) and runs both paths concurrently, merging counters.
func (r *ContactRepository) BatchUpsert(creates []models.Contact, updates []ContactPatch, chunkSize int) *BatchResult {
	var (
		createResult *BatchResult
		updateResult *BatchResult
		wg           sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		createResult = r.BatchCreate(creates, chunkSize)
	}()
	go func() {
		defer wg.Done()
		updateResult = r.BatchUpdate(updates, chunkSize)
	}()
	wg.Wait()

	result := &BatchResult{}
	result.Merge(createResult)
	result.Merge(updateResult)
	return result
}

func contactKey(participantID string, pageID uint) string {
	return fmt.Sprintf("%s:%d", participantID, pageID)
}
