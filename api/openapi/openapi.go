// Package openapi embeds the contract of the status page backend API.
package openapi

import _ "embed"

// Backend is the OpenAPI document of the backend consumed by the web client.
//
//go:embed backend.yaml
var Backend []byte
