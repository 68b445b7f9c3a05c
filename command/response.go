// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package command

import "fmt"

// Response acknowledges a command sent with ResponseRequired set.
// CorrelationId matches the Header.CommandId of the request it answers; the
// correlator (§4.D) uses it to resolve the pending waiter.
type Response struct {
	Header

	CorrelationId uint32 // the requesting command's CommandId
	Result        interface{}
}

func (r *Response) TypeTag() byte { return TypeResponse }
func (r *Response) Clone() Command {
	cp := *r
	return &cp
}
func (r *Response) Equals(other Command) bool {
	o, ok := other.(*Response)
	if !ok {
		return false
	}
	return r.CorrelationId == o.CorrelationId
}
func (r *Response) String() string {
	return fmt.Sprintf("Response{correlationId=%d}", r.CorrelationId)
}
func (r *Response) Accept(v Visitor) error { return v.VisitResponse(r) }

// ExceptionResponse is sent by the broker instead of Response when the
// requested operation failed. The correlator rejects the matching waiter
// with a cmserr.KindBroker error carrying Message/ExceptionClass (§4.D).
type ExceptionResponse struct {
	Header

	CorrelationId  uint32
	ExceptionClass string
	Message        string
	StackTrace     string
}

func (e *ExceptionResponse) TypeTag() byte { return TypeExceptionResponse }
func (e *ExceptionResponse) Clone() Command {
	cp := *e
	return &cp
}
func (e *ExceptionResponse) Equals(other Command) bool {
	o, ok := other.(*ExceptionResponse)
	if !ok {
		return false
	}
	return e.CorrelationId == o.CorrelationId && e.ExceptionClass == o.ExceptionClass && e.Message == o.Message
}
func (e *ExceptionResponse) String() string {
	return fmt.Sprintf("ExceptionResponse{correlationId=%d class=%s msg=%s}", e.CorrelationId, e.ExceptionClass, e.Message)
}
func (e *ExceptionResponse) Accept(v Visitor) error { return v.VisitExceptionResponse(e) }
