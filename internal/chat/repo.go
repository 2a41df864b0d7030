package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Session{}, &StoredMessage{})
}

// Storage binds the repo to one browsing session.
func (r *Repo) Storage(browsingSession string) Storage {
	return &repoStorage{repo: r, browsing: browsingSession}
}

func (r *Repo) GetSession(ctx context.Context, browsingSession string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("browsing_session = ?", browsingSession).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListMessages returns the transcript in seq ASC order (oldest -> newest).
func (r *Repo) ListMessages(ctx context.Context, browsingSession string) ([]StoredMessage, error) {
	var rows []StoredMessage
	if err := r.db.WithContext(ctx).
		Where("browsing_session = ?", browsingSession).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) LoadState(ctx context.Context, browsingSession string) (Persisted, error) {
	var p Persisted
	s, err := r.GetSession(ctx, browsingSession)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return p, nil
	case err != nil:
		return p, err
	}
	p.SessionID = s.SessionID

	rows, err := r.ListMessages(ctx, browsingSession)
	if err != nil {
		return Persisted{}, err
	}
	p.Messages = make([]Message, 0, len(rows))
	for _, row := range rows {
		m, err := row.toMessage()
		if err != nil {
			return Persisted{}, err
		}
		p.Messages = append(p.Messages, m)
	}
	return p, nil
}

// SaveState writes the transcript and session id in one transaction. Rows
// are upserted by position; rows past the end of the transcript are removed.
func (r *Repo) SaveState(ctx context.Context, browsingSession string, p Persisted) error {
	rows := make([]StoredMessage, 0, len(p.Messages))
	for i, m := range p.Messages {
		row, err := storedFrom(browsingSession, i, m)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s Session
		if err := tx.Where(Session{BrowsingSession: browsingSession}).
			Assign(map[string]any{"session_id": p.SessionID}).
			FirstOrCreate(&s).Error; err != nil {
			return err
		}
		if err := tx.Where("browsing_session = ? AND seq >= ?", browsingSession, len(rows)).
			Delete(&StoredMessage{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "browsing_session"}, {Name: "seq"}},
			DoUpdates: clause.AssignmentColumns([]string{"message_id", "sender_type", "content", "timestamp", "status", "metadata"}),
		}).CreateInBatches(rows, 100).Error
	})
}

func (r *Repo) ClearState(ctx context.Context, browsingSession string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("browsing_session = ?", browsingSession).
			Delete(&StoredMessage{}).Error; err != nil {
			return err
		}
		return tx.Where("browsing_session = ?", browsingSession).
			Delete(&Session{}).Error
	})
}

func storedFrom(browsingSession string, seq int, m Message) (StoredMessage, error) {
	row := StoredMessage{
		BrowsingSession: browsingSession,
		Seq:             seq,
		MessageID:       m.ID,
		SenderType:      string(m.SenderType),
		Content:         m.Content,
		Timestamp:       m.Timestamp,
		Status:          string(m.Status),
	}
	if m.Metadata != nil {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return StoredMessage{}, fmt.Errorf("encode metadata of %s: %w", m.ID, err)
		}
		s := string(b)
		row.Metadata = &s
	}
	return row, nil
}

func (row StoredMessage) toMessage() (Message, error) {
	m := Message{
		ID:         row.MessageID,
		SenderType: Role(row.SenderType),
		Content:    row.Content,
		Timestamp:  row.Timestamp,
		Status:     Status(row.Status),
	}
	if row.Metadata != nil && *row.Metadata != "" {
		var md Metadata
		if err := json.Unmarshal([]byte(*row.Metadata), &md); err != nil {
			return Message{}, fmt.Errorf("decode metadata of %s: %w", row.MessageID, err)
		}
		m.Metadata = &md
	}
	return m, nil
}

type repoStorage struct {
	repo     *Repo
	browsing string
}

func (s *repoStorage) Load(ctx context.Context) (Persisted, error) {
	return s.repo.LoadState(ctx, s.browsing)
}

func (s *repoStorage) Save(ctx context.Context, p Persisted) error {
	return s.repo.SaveState(ctx, s.browsing, p)
}

func (s *repoStorage) Clear(ctx context.Context) error {
	return s.repo.ClearState(ctx, s.browsing)
}
