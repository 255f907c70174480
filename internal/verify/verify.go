// Package verify runs integrity checks against restore points. A
// verification fetches nothing until it has to: the existence and size
// checks work from destination metadata alone, and the artifact bytes are
// downloaded once and shared by the remaining checks.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/db"
	"github.com/lifeboat-sh/lifeboat/internal/destination"
	"github.com/lifeboat-sh/lifeboat/internal/pipeline"
	"github.com/lifeboat-sh/lifeboat/internal/snapshot"
)

// Check names, in execution order.
const (
	CheckExistence = "existence"
	CheckSize      = "size"
	CheckDecrypt   = "decryptability"
	CheckStructure = "structure"
)

// Check statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// sizeTolerance is the allowed relative deviation between the recorded
// artifact size and the size reported by the destination.
const sizeTolerance = 0.10

// Check is the outcome of a single integrity check.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// Report aggregates the checks run against one restore point. Valid is
// true iff every executed check passed; skipped checks do not count
// against it.
type Report struct {
	RestorePointID string  `json:"restore_point_id"`
	Valid          bool    `json:"valid"`
	Checks         []Check `json:"checks"`
}

// Verifier runs integrity checks using the configured destinations and the
// transform codec.
type Verifier struct {
	fleet  *destination.Fleet
	codec  *pipeline.Codec
	logger *zap.Logger
}

func New(fleet *destination.Fleet, codec *pipeline.Codec, logger *zap.Logger) *Verifier {
	return &Verifier{fleet: fleet, codec: codec, logger: logger.Named("verify")}
}

// Verify runs the four checks in order. When the existence check fails the
// remaining checks are not executed at all and the report contains the one
// failed check. Any other failure is recorded and verification continues,
// so the report shows everything wrong with the artifact, not just the
// first problem.
func (v *Verifier) Verify(ctx context.Context, point *db.RestorePoint) Report {
	report := Report{RestorePointID: point.ID.String()}

	up, err := v.fleet.Resolve(point.Location)
	if err != nil {
		report.Checks = append(report.Checks, Check{
			Name:    CheckExistence,
			Status:  StatusFailed,
			Details: err.Error(),
		})
		return report
	}

	size, err := up.Stat(ctx, point.Location)
	if err != nil {
		report.Checks = append(report.Checks, Check{
			Name:    CheckExistence,
			Status:  StatusFailed,
			Details: fmt.Sprintf("artifact not found at %s: %v", point.Location, err),
		})
		return report
	}
	report.Checks = append(report.Checks, Check{Name: CheckExistence, Status: StatusPassed})

	report.Checks = append(report.Checks, v.checkSize(point, size))

	artifact, fetchErr := up.Fetch(ctx, point.Location)

	if point.Encrypted {
		report.Checks = append(report.Checks, v.checkDecrypt(artifact, fetchErr))
	} else {
		report.Checks = append(report.Checks, Check{
			Name:    CheckDecrypt,
			Status:  StatusSkipped,
			Details: "artifact is not encrypted",
		})
	}

	report.Checks = append(report.Checks, v.checkStructure(point, artifact, fetchErr))

	report.Valid = true
	for _, c := range report.Checks {
		if c.Status == StatusFailed {
			report.Valid = false
			break
		}
	}

	v.logger.Info("verification completed",
		zap.String("restore_point", point.ID.String()),
		zap.Bool("valid", report.Valid))
	return report
}

// checkSize compares the destination-reported size against the recorded
// size with a relative tolerance. A recorded size of zero means the job
// never captured one, which passes trivially.
func (v *Verifier) checkSize(point *db.RestorePoint, actual int64) Check {
	if point.SizeBytes == 0 {
		return Check{Name: CheckSize, Status: StatusPassed, Details: "no recorded size to compare"}
	}

	deviation := math.Abs(float64(actual)-float64(point.SizeBytes)) / float64(point.SizeBytes)
	if deviation > sizeTolerance {
		return Check{
			Name:   CheckSize,
			Status: StatusFailed,
			Details: fmt.Sprintf("size %d deviates %.1f%% from recorded %d (tolerance %.0f%%)",
				actual, deviation*100, point.SizeBytes, sizeTolerance*100),
		}
	}
	return Check{Name: CheckSize, Status: StatusPassed}
}

// checkDecrypt verifies the artifact decrypts under the configured key.
// Decryption authenticates the whole payload via GCM, so a pass here also
// guarantees the ciphertext was not tampered with.
func (v *Verifier) checkDecrypt(artifact []byte, fetchErr error) Check {
	if fetchErr != nil {
		return Check{Name: CheckDecrypt, Status: StatusFailed, Details: fmt.Sprintf("fetching artifact: %v", fetchErr)}
	}
	if _, _, err := v.codec.Decode(artifact); err != nil {
		return Check{Name: CheckDecrypt, Status: StatusFailed, Details: err.Error()}
	}
	return Check{Name: CheckDecrypt, Status: StatusPassed}
}

// checkStructure decodes the artifact and spot-checks that it parses as a
// snapshot document with at least one collection and internally consistent
// counts.
func (v *Verifier) checkStructure(point *db.RestorePoint, artifact []byte, fetchErr error) Check {
	if fetchErr != nil {
		return Check{Name: CheckStructure, Status: StatusFailed, Details: fmt.Sprintf("fetching artifact: %v", fetchErr)}
	}

	plain, _, err := v.codec.Decode(artifact)
	if err != nil {
		return Check{Name: CheckStructure, Status: StatusFailed, Details: fmt.Sprintf("decoding artifact: %v", err)}
	}

	var doc snapshot.Document
	if err := json.Unmarshal(plain, &doc); err != nil {
		return Check{Name: CheckStructure, Status: StatusFailed, Details: fmt.Sprintf("parsing document: %v", err)}
	}

	if len(doc.Collections) == 0 {
		return Check{Name: CheckStructure, Status: StatusFailed, Details: "document contains no collections"}
	}
	records := 0
	for _, rs := range doc.Collections {
		records += len(rs)
	}
	if doc.RecordCount != 0 && records != doc.RecordCount {
		return Check{
			Name:    CheckStructure,
			Status:  StatusFailed,
			Details: fmt.Sprintf("document declares %d records but contains %d", doc.RecordCount, records),
		}
	}

	return Check{
		Name:    CheckStructure,
		Status:  StatusPassed,
		Details: fmt.Sprintf("%d collections, %d records", len(doc.Collections), records),
	}
}
