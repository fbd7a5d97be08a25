package store

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/merchant-enrich/internal/model"
)

const checkpointSchema = `{
  "type": "object",
  "required": ["version", "job_id", "settings", "signature", "last_row", "cumulative_cost", "statuses", "records"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "job_id": {"type": "string", "minLength": 1},
    "signature": {"type": "string"},
    "last_row": {"type": "integer", "minimum": 0},
    "cumulative_cost": {"type": "number", "minimum": 0},
    "settings": {
      "type": "object",
      "required": ["input_path", "start_row", "end_row", "mapping", "mode"],
      "properties": {
        "start_row": {"type": "integer", "minimum": 1},
        "end_row": {"type": "integer", "minimum": 1},
        "mode": {"enum": ["basic", "enhanced"]},
        "mapping": {
          "type": "object",
          "required": ["merchant"],
          "properties": {"merchant": {"type": "string", "minLength": 1}}
        }
      }
    },
    "statuses": {
      "type": ["object", "null"],
      "propertyNames": {"pattern": "^[0-9]+$"},
      "additionalProperties": {"enum": ["pending", "completed", "failed-not-found"]}
    },
    "records": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["row", "status"],
        "properties": {
          "row": {"type": "integer", "minimum": 1},
          "status": {"enum": ["pending", "completed", "failed-not-found"]},
          "cost_per_row": {"type": "number", "minimum": 0},
          "evidence_links": {"type": ["array", "null"], "items": {"type": "string"}}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("checkpoint.json", strings.NewReader(checkpointSchema)); err != nil {
			schemaErr = eris.Wrap(err, "store: add checkpoint schema")
			return
		}
		schema, schemaErr = compiler.Compile("checkpoint.json")
		if schemaErr != nil {
			schemaErr = eris.Wrap(schemaErr, "store: compile checkpoint schema")
		}
	})
	return schema, schemaErr
}

// Encode serializes a checkpoint, stamping the current format version.
func Encode(cp *model.Checkpoint) ([]byte, error) {
	if cp == nil {
		return nil, eris.New("store: nil checkpoint")
	}
	c := *cp
	c.Version = model.CheckpointVersion
	data, err := json.Marshal(&c)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal checkpoint")
	}
	return data, nil
}

// Decode validates data against the checkpoint schema and unmarshals it.
// Structural problems are reported as ErrCorruptCheckpoint.
func Decode(data []byte) (*model.Checkpoint, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(ErrCorruptCheckpoint, "unmarshal: %v", err)
	}
	if err := sch.Validate(raw); err != nil {
		return nil, eris.Wrapf(ErrCorruptCheckpoint, "schema: %v", err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, eris.Wrapf(ErrCorruptCheckpoint, "decode: %v", err)
	}
	if cp.Version != model.CheckpointVersion {
		return nil, eris.Wrapf(ErrCorruptCheckpoint, "unsupported version %d", cp.Version)
	}
	s := cp.Settings
	if s.EndRow < s.StartRow || cp.LastRow > s.EndRow || (cp.LastRow != 0 && cp.LastRow < s.StartRow-1) {
		return nil, eris.Wrapf(ErrCorruptCheckpoint, "last row %d outside range %d-%d", cp.LastRow, s.StartRow, s.EndRow)
	}
	return &cp, nil
}

// CheckCoverage reports ErrCorruptCheckpoint unless every row from the
// range start through LastRow has a record with a terminal status that
// agrees with the status map. A resume trusts LastRow, so a gap would leave
// rows unprocessed.
func CheckCoverage(cp *model.Checkpoint) error {
	recs := make(map[int]model.MerchantRecord, len(cp.Records))
	for _, rec := range cp.Records {
		recs[rec.Row] = rec
	}
	for row := cp.Settings.StartRow; row <= cp.LastRow; row++ {
		rec, ok := recs[row]
		if !ok {
			return eris.Wrapf(ErrCorruptCheckpoint, "row %d at or before last row %d has no record", row, cp.LastRow)
		}
		if !rec.Status.Terminal() {
			return eris.Wrapf(ErrCorruptCheckpoint, "row %d has non-terminal status %q", row, rec.Status)
		}
		if st, ok := cp.Statuses[row]; !ok || st != rec.Status {
			return eris.Wrapf(ErrCorruptCheckpoint, "row %d status map disagrees with record", row)
		}
	}
	return nil
}
