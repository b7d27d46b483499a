// Package helpers collects small formatting utilities shared across the
// agent's HTTP surfaces.
package helpers

import (
	"encoding/json"
	"fmt"
)

// PrintStruct prints a given struct in pretty JSON, used by the status
// server to log a structured error's full shape to stdout alongside its
// HTTP response.
func PrintStruct(v any) {
	res, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(res))
}
