package platform

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"

	"github.com/felixgeelhaar/kbadmin/internal/errors"
)

//go:embed contract.yaml
var contractYAML []byte

// Contract validates identity provider responses against the OpenAPI
// document the client was written for.
type Contract struct {
	doc *openapi3.T
}

// LoadContract parses the embedded provider contract.
func LoadContract(ctx context.Context) (*Contract, error) {
	return ParseContract(ctx, contractYAML)
}

// ParseContract parses and validates an OpenAPI 3 document.
func ParseContract(ctx context.Context, data []byte) (*Contract, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider contract: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid provider contract: %w", err)
	}
	return &Contract{doc: doc}, nil
}

// route finds the operation for req. Paths in the document are absolute.
func (c *Contract) route(req *http.Request) (*routers.Route, bool) {
	item := c.doc.Paths.Find(req.URL.Path)
	if item == nil {
		return nil, false
	}
	op := item.GetOperation(req.Method)
	if op == nil {
		return nil, false
	}
	return &routers.Route{
		Spec:      c.doc,
		Path:      req.URL.Path,
		PathItem:  item,
		Method:    req.Method,
		Operation: op,
	}, true
}

// ValidateResponse checks a response body and status against the operation
// serving req. Requests to endpoints the document does not describe pass.
func (c *Contract) ValidateResponse(ctx context.Context, req *http.Request, status int, header http.Header, body []byte) error {
	route, ok := c.route(req)
	if !ok {
		return nil
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request: req,
			Route:   route,
		},
		Status: status,
		Header: header,
		Body:   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			IncludeResponseStatus: true,
		},
	}

	if err := openapi3filter.ValidateResponse(ctx, input); err != nil {
		return errors.Wrap(errors.ErrCodeContractViolation,
			fmt.Sprintf("%s %s returned a response outside the provider contract", req.Method, req.URL.Path), err)
	}
	return nil
}
