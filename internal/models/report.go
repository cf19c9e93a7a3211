package models

import (
	"strings"
	"time"
)

// DefaultRejectionSampleCap bounds how many rejection samples a run retains.
// A pathological input can reject millions of rows; the counts stay exact,
// the samples do not grow with the data.
const DefaultRejectionSampleCap = 100

// RejectionSample is one retained rejection: the reason plus enough to find
// the originating row again.
type RejectionSample struct {
	RowNumber int64  `json:"row_number"`
	VINPrefix string `json:"vin_prefix"`
	Reason    string `json:"reason"`
}

// QualityReport summarizes validation outcomes for one pipeline run.
// Finalized at pipeline end and read-only afterwards.
type QualityReport struct {
	TotalRecords   int64             `json:"total_records"`
	ValidRecords   int64             `json:"valid_records"`
	InvalidRecords int64             `json:"invalid_records"`
	MissingValues  map[string]int64  `json:"missing_values"`
	Samples        []RejectionSample `json:"validation_errors"`
	ProcessedAt    time.Time         `json:"processed_at"`
}

// QualityReporter accumulates validator outcomes during a run. It is written
// from a single accumulation point (the pipeline loop), so it carries no
// internal locking.
type QualityReporter struct {
	report    QualityReport
	sampleCap int
}

// NewQualityReporter creates a reporter retaining at most sampleCap rejection
// samples. A cap below zero falls back to the default.
func NewQualityReporter(sampleCap int) *QualityReporter {
	if sampleCap < 0 {
		sampleCap = DefaultRejectionSampleCap
	}
	return &QualityReporter{sampleCap: sampleCap}
}

// ObserveRow tallies blank cells per canonical column. Called for every row
// read, accepted or not, so the counts describe the source rather than the
// validator's verdicts.
func (q *QualityReporter) ObserveRow(row RawRow) {
	if q.report.MissingValues == nil {
		q.report.MissingValues = make(map[string]int64, len(CanonicalColumns))
	}
	for _, col := range CanonicalColumns {
		if strings.TrimSpace(row[col]) == "" {
			q.report.MissingValues[col]++
		}
	}
}

// RecordValid tallies one accepted row.
func (q *QualityReporter) RecordValid() {
	q.report.TotalRecords++
	q.report.ValidRecords++
}

// RecordRejection tallies one rejected row and retains it as a sample if the
// cap allows.
func (q *QualityReporter) RecordRejection(rowNumber int64, vinPrefix string, rej *Rejection) {
	q.report.TotalRecords++
	q.report.InvalidRecords++
	if len(q.report.Samples) < q.sampleCap {
		q.report.Samples = append(q.report.Samples, RejectionSample{
			RowNumber: rowNumber,
			VINPrefix: vinPrefix,
			Reason:    rej.Error(),
		})
	}
}

// Finalize stamps and returns the report. The reporter must not be used
// afterwards.
func (q *QualityReporter) Finalize() *QualityReport {
	q.report.ProcessedAt = time.Now().UTC()
	if q.report.Samples == nil {
		q.report.Samples = []RejectionSample{}
	}
	if q.report.MissingValues == nil {
		q.report.MissingValues = map[string]int64{}
	}
	return &q.report
}
