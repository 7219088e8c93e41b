package priceapi

import (
	"fmt"
	"math/big"
	"time"
)

// asInt24 converts an ABI-decoded int24 (bound to Go's int32 or
// *big.Int depending on go-ethereum's packing) into a plain int.
func asInt24(value interface{}) (int, error) {
	switch v := value.(type) {
	case int32:
		return int(v), nil
	case *big.Int:
		return int(v.Int64()), nil
	default:
		return 0, fmt.Errorf("priceapi: unexpected int24 type %T", value)
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
