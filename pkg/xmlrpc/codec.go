// Package xmlrpc implements the subset of XML-RPC that pingback needs:
// scalar, array and struct values, method calls, responses and faults.
package xmlrpc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Standard fault codes for errors raised by the RPC layer itself.
const (
	FaultParseError     = -32700
	FaultMethodNotFound = -32601
	FaultInvalidParams  = -32602
	FaultInternalError  = -32603
)

// Fault is an XML-RPC fault. It is used both as the decoded form of a
// remote fault and as the error a method returns to produce one.
type Fault struct {
	Code   int
	String string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("xmlrpc fault %d: %s", f.Code, f.String)
}

// Faulter is implemented by errors that know their own fault form.
type Faulter interface {
	Fault() *Fault
}

type param struct {
	Value value `xml:"value"`
}

type value struct {
	String  *string  `xml:"string"`
	Int     *string  `xml:"int"`
	I4      *string  `xml:"i4"`
	Boolean *string  `xml:"boolean"`
	Double  *string  `xml:"double"`
	Struct  *structV `xml:"struct"`
	Array   *arrayV  `xml:"array"`
	Text    string   `xml:",chardata"`
}

type structV struct {
	Members []member `xml:"member"`
}

type member struct {
	Name  string `xml:"name"`
	Value value  `xml:"value"`
}

type arrayV struct {
	Values []value `xml:"data>value"`
}

type methodCall struct {
	XMLName xml.Name `xml:"methodCall"`
	Method  string   `xml:"methodName"`
	Params  []param  `xml:"params>param"`
}

type methodResponse struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  []param  `xml:"params>param"`
	Fault   *param   `xml:"fault"`
}

func (v value) decode() (any, error) {
	switch {
	case v.String != nil:
		return *v.String, nil
	case v.Int != nil:
		return strconv.Atoi(strings.TrimSpace(*v.Int))
	case v.I4 != nil:
		return strconv.Atoi(strings.TrimSpace(*v.I4))
	case v.Boolean != nil:
		switch strings.TrimSpace(*v.Boolean) {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
		return nil, fmt.Errorf("xmlrpc: invalid boolean %q", *v.Boolean)
	case v.Double != nil:
		return strconv.ParseFloat(strings.TrimSpace(*v.Double), 64)
	case v.Struct != nil:
		m := make(map[string]any, len(v.Struct.Members))
		for _, mem := range v.Struct.Members {
			dv, err := mem.Value.decode()
			if err != nil {
				return nil, err
			}
			m[mem.Name] = dv
		}
		return m, nil
	case v.Array != nil:
		out := make([]any, 0, len(v.Array.Values))
		for _, item := range v.Array.Values {
			dv, err := item.decode()
			if err != nil {
				return nil, err
			}
			out = append(out, dv)
		}
		return out, nil
	}
	// a value without a type element is a string
	return v.Text, nil
}

func writeValue(b *bytes.Buffer, v any) error {
	b.WriteString("<value>")
	switch x := v.(type) {
	case string:
		b.WriteString("<string>")
		if err := xml.EscapeText(b, []byte(x)); err != nil {
			return err
		}
		b.WriteString("</string>")
	case int:
		fmt.Fprintf(b, "<int>%d</int>", x)
	case bool:
		if x {
			b.WriteString("<boolean>1</boolean>")
		} else {
			b.WriteString("<boolean>0</boolean>")
		}
	case float64:
		fmt.Fprintf(b, "<double>%s</double>", strconv.FormatFloat(x, 'f', -1, 64))
	case []any:
		b.WriteString("<array><data>")
		for _, item := range x {
			if err := writeValue(b, item); err != nil {
				return err
			}
		}
		b.WriteString("</data></array>")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("<struct>")
		for _, k := range keys {
			b.WriteString("<member><name>")
			if err := xml.EscapeText(b, []byte(k)); err != nil {
				return err
			}
			b.WriteString("</name>")
			if err := writeValue(b, x[k]); err != nil {
				return err
			}
			b.WriteString("</member>")
		}
		b.WriteString("</struct>")
	default:
		return fmt.Errorf("xmlrpc: unsupported value type %T", v)
	}
	b.WriteString("</value>")
	return nil
}

func writeParams(b *bytes.Buffer, params []any) error {
	b.WriteString("<params>")
	for _, p := range params {
		b.WriteString("<param>")
		if err := writeValue(b, p); err != nil {
			return err
		}
		b.WriteString("</param>")
	}
	b.WriteString("</params>")
	return nil
}

// EncodeCall renders a methodCall document.
func EncodeCall(method string, params ...any) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString("<methodCall><methodName>")
	if err := xml.EscapeText(&b, []byte(method)); err != nil {
		return nil, err
	}
	b.WriteString("</methodName>")
	if err := writeParams(&b, params); err != nil {
		return nil, err
	}
	b.WriteString("</methodCall>\n")
	return b.Bytes(), nil
}

// DecodeCall parses a methodCall document.
func DecodeCall(r io.Reader) (string, []any, error) {
	var call methodCall
	if err := xml.NewDecoder(r).Decode(&call); err != nil {
		return "", nil, fmt.Errorf("xmlrpc: decode call: %w", err)
	}
	params := make([]any, 0, len(call.Params))
	for _, p := range call.Params {
		v, err := p.Value.decode()
		if err != nil {
			return "", nil, err
		}
		params = append(params, v)
	}
	return strings.TrimSpace(call.Method), params, nil
}

// EncodeResponse renders a successful methodResponse carrying v.
func EncodeResponse(v any) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString("<methodResponse>")
	if err := writeParams(&b, []any{v}); err != nil {
		return nil, err
	}
	b.WriteString("</methodResponse>\n")
	return b.Bytes(), nil
}

// EncodeFault renders a fault methodResponse.
func EncodeFault(f *Fault) []byte {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString("<methodResponse><fault>")
	// a struct of an int and a string cannot fail to encode
	_ = writeValue(&b, map[string]any{"faultCode": f.Code, "faultString": f.String})
	b.WriteString("</fault></methodResponse>\n")
	return b.Bytes()
}

// DecodeResponse parses a methodResponse. A fault is returned as a *Fault
// error.
func DecodeResponse(r io.Reader) (any, error) {
	var resp methodResponse
	if err := xml.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("xmlrpc: decode response: %w", err)
	}
	if resp.Fault != nil {
		v, err := resp.Fault.Value.decode()
		if err != nil {
			return nil, err
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("xmlrpc: malformed fault")
		}
		f := &Fault{}
		switch code := m["faultCode"].(type) {
		case int:
			f.Code = code
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(code)); err == nil {
				f.Code = n
			}
		}
		f.String, _ = m["faultString"].(string)
		return nil, f
	}
	if len(resp.Params) != 1 {
		return nil, fmt.Errorf("xmlrpc: expected one return value, got %d", len(resp.Params))
	}
	return resp.Params[0].Value.decode()
}
