package pipeline

import "encoding/json"

// unmarshalJSONLoose decodes an LLM's raw text response into v. LLM output
// is never trusted to be clean JSON, so this is kept as a single seam every
// stage's parser calls, matching original_source's shared _safe_json_loads
// helper used by every l1/l2/qc/dimensions parser.
func unmarshalJSONLoose(raw string, v interface{}) error {
	return json.Unmarshal([]byte(raw), v)
}
