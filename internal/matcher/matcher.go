// Package matcher works out which patient and which outstanding provider
// request an inbound fax belongs to, using only the text of the fax and the
// number it came from.
package matcher

import (
	"context"
	"fmt"
	"time"

	"medrecords/pkg/types"

	"github.com/sirupsen/logrus"
)

const DefaultNameThreshold = 0.85

type PatientFinder interface {
	PatientsByDateOfBirth(ctx context.Context, dob time.Time) ([]*types.Patient, error)
}

type Matcher struct {
	logger    *logrus.Logger
	patients  PatientFinder
	threshold float64
	now       func() time.Time
}

func New(logger *logrus.Logger, patients PatientFinder, threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultNameThreshold
	}
	return &Matcher{
		logger:    logger,
		patients:  patients,
		threshold: threshold,
		now:       time.Now,
	}
}

// PatientMatch is a patient identified from a document.
type PatientMatch struct {
	Patient     *types.Patient
	Score       float64
	DateOfBirth time.Time
	Name        Name
}

// Extraction is everything the matcher reads out of a document's text.
type Extraction struct {
	DateOfBirth   *time.Time
	Name          *Name
	EncounterDate *time.Time
	Facilities    []string
}

func (m *Matcher) Extract(text string) Extraction {
	now := m.now()

	var ex Extraction
	if dob, ok := ExtractDateOfBirth(text, now); ok {
		ex.DateOfBirth = &dob
	}
	if name, ok := ExtractName(text); ok {
		ex.Name = &name
	}
	if enc, ok := ExtractEncounterDate(text, now); ok {
		ex.EncounterDate = &enc
	}
	ex.Facilities = ExtractFacilityNames(text)

	return ex
}

// IdentifyPatient narrows the registry to patients sharing the document's
// date of birth and accepts the best name match above the threshold. A nil
// match with a nil error means the document could not be attributed.
func (m *Matcher) IdentifyPatient(ctx context.Context, ex Extraction) (*PatientMatch, error) {
	entry := m.logger.WithField("component", "matcher")

	if ex.DateOfBirth == nil {
		entry.Debug("no date of birth found in document")
		return nil, nil
	}
	if ex.Name == nil {
		entry.Debug("no patient name found in document")
		return nil, nil
	}

	candidates, err := m.patients.PatientsByDateOfBirth(ctx, *ex.DateOfBirth)
	if err != nil {
		return nil, fmt.Errorf("failed to load dob candidates: %w", err)
	}

	var best *PatientMatch
	for _, p := range candidates {
		score := NameSimilarity(*ex.Name, p.FirstName, p.LastName)
		if best == nil || score > best.Score {
			best = &PatientMatch{Patient: p, Score: score, DateOfBirth: *ex.DateOfBirth, Name: *ex.Name}
		}
	}

	if best == nil || best.Score < m.threshold {
		fields := logrus.Fields{"candidates": len(candidates), "threshold": m.threshold}
		if best != nil {
			fields["best_score"] = best.Score
		}
		entry.WithFields(fields).Info("no patient matched document")
		return nil, nil
	}

	entry.WithFields(logrus.Fields{
		"patient_id": best.Patient.ID,
		"score":      best.Score,
	}).Info("document matched to patient")

	return best, nil
}
