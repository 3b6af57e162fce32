// Package typemap resolves cross-system column-type compatibility. The
// policy for a (source, destination) pair is computed once, before any row
// flows: destination schema commitment is append-oriented and irreversible,
// so known mismatches must never reach schema inference.
//
// The resolver performs no data movement. The extraction collaborator applies
// the returned policy per column before the destination observes the data.
package typemap

import (
	"strings"

	"github.com/riverline-data/ingestor/internal/domain"
)

// DestinationKind identifies the destination technology.
type DestinationKind string

const (
	// DestDatabricks and DestUnityCatalog commit schemas eagerly and need
	// type adaptation.
	DestDatabricks   DestinationKind = "databricks"
	DestUnityCatalog DestinationKind = "unity_catalog"
	// DestFilesystem writes plain columnar files whose readers infer types
	// compatibly; no adaptation is applied, preserving original fidelity.
	DestFilesystem DestinationKind = "filesystem"
)

// TargetType is the destination-side type a rule maps to.
type TargetType string

const (
	TargetDouble      TargetType = "double"
	TargetBigint      TargetType = "bigint"
	TargetTimestamp   TargetType = "timestamp"
	TargetTimestampTZ TargetType = "timestamptz"
	TargetString      TargetType = "string"
)

// Column describes a source column as reported by reflection.
type Column struct {
	Name string
	// Type is the canonical lowercase source type name ("number", "time",
	// "datetimeoffset", ...).
	Type      string
	Precision int
	Scale     int
}

// Mapping is the result of applying a rule to a column.
type Mapping struct {
	Target TargetType
	// Length is set for fixed-length string targets (0 = unbounded).
	Length int
}

// Rule pairs a predicate on the source column with a target type.
type Rule struct {
	Match   func(Column) bool
	Mapping Mapping
}

// Policy is an ordered rule list for one (source, destination) pair.
type Policy struct {
	Source      domain.SourceKind
	Destination DestinationKind
	rules       []Rule
}

// Apply returns the mapping of the first matching rule, or ok=false when the
// column's original type is kept.
func (p *Policy) Apply(col Column) (Mapping, bool) {
	for _, r := range p.rules {
		if r.Match(col) {
			return r.Mapping, true
		}
	}
	return Mapping{}, false
}

// Resolve returns the transformation policy for the pair, or nil when the
// destination's own inference handles the source's types compatibly.
func Resolve(source domain.SourceKind, dest DestinationKind) *Policy {
	if dest != DestDatabricks && dest != DestUnityCatalog {
		return nil
	}

	var rules []Rule
	switch source {
	case domain.SourceOracle:
		rules = oracleRules
	case domain.SourceMSSQL, domain.SourceAzureSQL:
		rules = mssqlRules
	case domain.SourcePostgres:
		rules = postgresRules
	default:
		return nil
	}

	return &Policy{Source: source, Destination: dest, rules: rules}
}

func typeIs(name string) func(Column) bool {
	return func(c Column) bool { return strings.EqualFold(c.Type, name) }
}

// Oracle NUMBER defaults to arbitrary precision, which the destination pins
// to DECIMAL(38,9) and then conflicts at schema-merge time. Small integer
// NUMBERs stay integral; the rest become doubles.
var oracleRules = []Rule{
	{
		Match: func(c Column) bool {
			return strings.EqualFold(c.Type, "number") && c.Scale == 0 && c.Precision > 0 && c.Precision <= 18
		},
		Mapping: Mapping{Target: TargetBigint},
	},
	{Match: typeIs("number"), Mapping: Mapping{Target: TargetDouble}},
	{Match: typeIs("date"), Mapping: Mapping{Target: TargetTimestamp}},
}

// Spark cannot read a time-of-day-only value from Parquet, and the money
// types have no destination counterpart.
var mssqlRules = []Rule{
	{Match: typeIs("time"), Mapping: Mapping{Target: TargetString, Length: 8}}, // "HH:MM:SS"
	{Match: typeIs("datetimeoffset"), Mapping: Mapping{Target: TargetTimestampTZ}},
	{Match: typeIs("money"), Mapping: Mapping{Target: TargetDouble}},
	{Match: typeIs("smallmoney"), Mapping: Mapping{Target: TargetDouble}},
}

var postgresRules = []Rule{
	{Match: typeIs("interval"), Mapping: Mapping{Target: TargetString}},
}
