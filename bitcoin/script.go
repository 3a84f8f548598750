package bitcoin

import (
	"github.com/bsv-blockchain/go-sdk/script"
)

// OpReturnPayload returns the concatenated data pushes of a null-data
// output script: OP_RETURN, or OP_FALSE OP_RETURN, followed by pushes only.
func OpReturnPayload(pkScript []byte) ([]byte, bool) {
	body := pkScript
	if len(body) > 0 && body[0] == script.OpFALSE {
		body = body[1:]
	}
	if len(body) == 0 || body[0] != script.OpRETURN {
		return nil, false
	}

	chunks, err := script.NewFromBytes(body[1:]).Chunks()
	if err != nil {
		return nil, false
	}

	var data []byte
	for _, c := range chunks {
		if c.Op > script.OpPUSHDATA4 {
			return nil, false
		}
		data = append(data, c.Data...)
	}
	return data, true
}

// OpReturnOutputs returns the payload of every null-data output of tx in
// output order.
func (tx *Transaction) OpReturnOutputs() [][]byte {
	var out [][]byte
	for i := range tx.Outputs {
		if data, ok := OpReturnPayload(tx.Outputs[i].Script); ok {
			out = append(out, data)
		}
	}
	return out
}
