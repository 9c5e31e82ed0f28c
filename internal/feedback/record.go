// Package feedback keeps the append-only log of user verdicts on generated
// statements and the phrase statistics rebuilt from it.
package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerlens/ledgerlens/internal/judge"
)

// RecordVersion is written into every persisted record. Readers accept any
// version and ignore fields they do not know.
const RecordVersion = 1

type Outcome string

const (
	OutcomePositive  Outcome = "positive"
	OutcomeNegative  Outcome = "negative"
	OutcomeCorrected Outcome = "corrected"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomePositive, OutcomeNegative, OutcomeCorrected:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidOutcome    = errors.New("invalid feedback outcome")
	ErrMissingQuery      = errors.New("natural query is required")
	ErrMissingCorrection = errors.New("corrected feedback requires the corrected SQL")
	ErrRecordTooLarge    = errors.New("feedback record too large")
)

// MaxRecordBytes bounds the encoded size of one record so every backend
// can read back whatever it accepted.
const MaxRecordBytes = 1 << 20

type Record struct {
	Version      int             `json:"v"`
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	NaturalQuery string          `json:"natural_query"`
	SQLQuery     string          `json:"sql_query"`
	Outcome      Outcome         `json:"outcome"`
	Correction   string          `json:"correction,omitempty"`
	Judgment     *judge.Judgment `json:"judgment,omitempty"`
}

type Input struct {
	NaturalQuery string          `json:"natural_query"`
	SQLQuery     string          `json:"sql_query"`
	Outcome      Outcome         `json:"outcome"`
	Correction   string          `json:"correction,omitempty"`
	Judgment     *judge.Judgment `json:"judgment,omitempty"`
}

func (in Input) Validate() error {
	if strings.TrimSpace(in.NaturalQuery) == "" {
		return ErrMissingQuery
	}
	if !in.Outcome.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, in.Outcome)
	}
	if in.Outcome == OutcomeCorrected && strings.TrimSpace(in.Correction) == "" {
		return ErrMissingCorrection
	}
	return nil
}

// NewRecord stamps a validated input with an ID and a millisecond time.
func NewRecord(in Input, now time.Time) (Record, error) {
	if err := in.Validate(); err != nil {
		return Record{}, err
	}
	record := Record{
		Version:      RecordVersion,
		ID:           uuid.NewString(),
		Timestamp:    now.UTC().Truncate(time.Millisecond),
		NaturalQuery: strings.TrimSpace(in.NaturalQuery),
		SQLQuery:     in.SQLQuery,
		Outcome:      in.Outcome,
		Correction:   strings.TrimSpace(in.Correction),
		Judgment:     in.Judgment,
	}
	if err := record.checkSize(); err != nil {
		return Record{}, err
	}
	return record, nil
}

func (r Record) checkSize() error {
	encoded, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode feedback record: %w", err)
	}
	if len(encoded) > MaxRecordBytes {
		return fmt.Errorf("%w: %d bytes encoded, limit %d", ErrRecordTooLarge, len(encoded), MaxRecordBytes)
	}
	return nil
}

// usable reports whether a record read back from storage can be aggregated.
func (r Record) usable() bool {
	if strings.TrimSpace(r.NaturalQuery) == "" || !r.Outcome.Valid() {
		return false
	}
	return r.Outcome != OutcomeCorrected || r.Correction != ""
}
