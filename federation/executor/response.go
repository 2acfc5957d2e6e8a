package executor

import (
	"bytes"

	json "github.com/goccy/go-json"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/weftql/weft/federation/response"
)

// Response is the result of executing one plan: the shaped data tree and the
// combined error list in plan order. Data is nil when null propagation
// reached the top level; Errors marshals away entirely when empty.
type Response struct {
	Data   *response.Object
	Errors gqlerror.List
}

func (r *Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"data":`)
	data, err := json.Marshal(r.Data)
	if err != nil {
		return nil, err
	}
	buf.Write(data)
	if len(r.Errors) > 0 {
		buf.WriteString(`,"errors":`)
		errs, err := json.Marshal(r.Errors)
		if err != nil {
			return nil, err
		}
		buf.Write(errs)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
