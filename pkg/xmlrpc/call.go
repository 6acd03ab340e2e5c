package xmlrpc

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	kxmlrpc "github.com/kolo/xmlrpc"

	"github.com/WhileEndless/go-pingback/pkg/client"
	"github.com/WhileEndless/go-pingback/pkg/constants"
	"github.com/WhileEndless/go-pingback/pkg/errors"
)

// Call posts an XML-RPC call to endpoint through the opener and decodes the
// single return value. A remote fault is returned as a *Fault error; any
// other failure is an error from the errors package or a decode error.
func Call(ctx context.Context, o *client.Opener, endpoint, method string, params ...any) (any, error) {
	body, err := kxmlrpc.EncodeMethodCall(method, params...)
	if err != nil {
		return nil, fmt.Errorf("xmlrpc: encode call: %w", err)
	}
	resp, err := o.Post(ctx, endpoint, "text/xml", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	if !resp.OK() {
		return nil, errors.NewProtocolError(
			fmt.Sprintf("xml-rpc endpoint answered %d %s", resp.StatusCode, strings.TrimSpace(resp.Status)), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxRPCResponseBytes))
	if err != nil {
		return nil, err
	}

	r := kxmlrpc.Response(data)
	if err := r.Err(); err != nil {
		var fe kxmlrpc.FaultError
		if stderrors.As(err, &fe) {
			return nil, &Fault{Code: fe.Code, String: fe.String}
		}
		// Some servers send the fault code without an <int> tag.
		return DecodeResponse(bytes.NewReader(data))
	}
	var reply any
	if err := r.Unmarshal(&reply); err != nil {
		// untyped values are strings, which kolo cannot store in an interface
		return DecodeResponse(bytes.NewReader(data))
	}
	return reply, nil
}
