//go:build !nojsonsimd

// Package jsonx picks the JSON codec used on the hot paths (device bodies,
// market responses, the aggregated feed). Build with -tags nojsonsimd to fall
// back to encoding/json.
package jsonx

import "github.com/bytedance/sonic"

var fast = sonic.ConfigDefault

func Marshal(v interface{}) ([]byte, error) {
	return fast.Marshal(v)
}

func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return fast.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v interface{}) error {
	return fast.Unmarshal(data, v)
}
