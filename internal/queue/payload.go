package queue

import "encoding/json"

func marshalPayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalPayload(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}
