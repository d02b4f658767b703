package service

import (
	"context"

	"github.com/navikt/bq-remote-functions/pkg/remotefn"
)

type RemoteFunctionService interface {
	// Call evaluates one batch. An empty name resolves the function from the
	// "function" key of the user defined context.
	Call(ctx context.Context, name string, req *remotefn.Request) (*remotefn.Response, error)
	ListFunctions(ctx context.Context) (*FunctionList, error)
}

// DictionaryService reloads the dictionary behind the lookup function.
type DictionaryService interface {
	Reload(ctx context.Context) (bool, error)
}

type FunctionArgument struct {
	Name string        `json:"name"`
	Type remotefn.Type `json:"type"`
}

type Function struct {
	Name          string             `json:"name"`
	Description   string             `json:"description"`
	Arguments     []FunctionArgument `json:"arguments"`
	ReturnType    remotefn.Type      `json:"returnType"`
	Deterministic bool               `json:"deterministic"`
}

type FunctionList struct {
	Functions []*Function `json:"functions"`
}

// UserDefinedContextFunction is the user defined context key naming the
// function when it is not part of the route.
const UserDefinedContextFunction = "function"
