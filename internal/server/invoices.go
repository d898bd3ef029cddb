package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"

	"github.com/rezonia/facturx-gateway/internal/gateway"
	"github.com/rezonia/facturx-gateway/internal/model"
	"github.com/rezonia/facturx-gateway/internal/processor"
)

// handleCreateInvoice ingests a document, or registers a JSON invoice typed
// in by hand, and returns its lifecycle after scoring.
func (s *Server) handleCreateInvoice(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.ExtractTimeout)
	defer cancel()

	if isJSON(c) {
		var inv model.ExtractedInvoiceData
		if err := binding.JSON.BindBody(body, &inv); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid invoice JSON", Details: err.Error()})
			return
		}
		id := uuid.NewString()
		verdict, err := s.pipeline.Validate(ctx, id, &inv)
		if err != nil {
			c.JSON(errorStatus(err), ErrorResponse{Error: err.Error()})
			return
		}
		tracking, _ := s.pipeline.Tracking(id)
		c.JSON(http.StatusCreated, InvoiceResponse{
			ID:       id,
			Invoice:  &inv,
			Verdict:  &verdict,
			Tracking: tracking,
		})
		return
	}

	ing := s.pipeline.Ingest(ctx, body, imageMimeType(c))
	resp := InvoiceResponse{
		ID:       ing.InvoiceID,
		Verdict:  ing.Verdict,
		Tracking: ing.Tracking,
	}
	if err := ing.Extraction.Error; err != nil {
		resp.Error = err.Error()
		c.JSON(extractionStatus(err), resp)
		return
	}
	extraction := newProcessResponse(ing.Extraction)
	resp.Invoice = extraction.Invoice
	resp.Extraction = &extraction
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleGetInvoice(c *gin.Context) {
	id := c.Param("id")
	tracking, ok := s.pipeline.Tracking(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "invoice not found"})
		return
	}

	resp := InvoiceResponse{ID: id, Tracking: tracking}
	if progress, ok := s.pipeline.Progress(id); ok {
		resp.Completion = progress.Completion
		resp.InStatusSeconds = int64(progress.InStatus.Seconds())
		resp.Stalled = progress.Stalled
	}
	if inv, err := s.pipeline.Invoice(c.Request.Context(), id); err == nil {
		resp.Invoice = inv
	}
	if verdict, err := s.pipeline.Verdict(c.Request.Context(), id); err == nil {
		resp.Verdict = verdict
	}
	c.JSON(http.StatusOK, resp)
}

// handleCorrectInvoice replaces the invoice data and scores it again
func (s *Server) handleCorrectInvoice(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.pipeline.Tracking(id); !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "invoice not found"})
		return
	}

	var inv model.ExtractedInvoiceData
	if err := c.ShouldBindJSON(&inv); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid invoice JSON", Details: err.Error()})
		return
	}

	verdict, err := s.pipeline.Validate(c.Request.Context(), id, &inv)
	if err != nil {
		c.JSON(errorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	tracking, _ := s.pipeline.Tracking(id)
	c.JSON(http.StatusOK, InvoiceResponse{
		ID:       id,
		Invoice:  &inv,
		Verdict:  &verdict,
		Tracking: tracking,
	})
}

func (s *Server) handleTransition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid transition request", Details: err.Error()})
		return
	}

	tracking, err := s.pipeline.Transition(c.Request.Context(), c.Param("id"), model.InvoiceStatus(req.Status), req.Message)
	if err != nil {
		c.JSON(errorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, tracking)
}

func (s *Server) handleTransmit(c *gin.Context) {
	var req TransmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid transmit request", Details: err.Error()})
		return
	}

	opts, err := req.submitOptions()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.TransmitTimeout)
	defer cancel()

	id := c.Param("id")
	result, err := s.pipeline.Submit(ctx, id, opts)
	if err != nil {
		c.JSON(errorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}

	tracking, _ := s.pipeline.Tracking(id)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, TransmitResponse{Result: result, Tracking: tracking})
}

func (s *Server) handleTrack(c *gin.Context) {
	id := c.Param("id")
	info, err := s.pipeline.Track(c.Request.Context(), id)
	if err != nil {
		c.JSON(errorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	tracking, _ := s.pipeline.Tracking(id)
	c.JSON(http.StatusOK, TrackResponse{Transmission: info, Tracking: tracking})
}

func (s *Server) handleCancel(c *gin.Context) {
	accepted, err := s.pipeline.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

// handleAcknowledgement returns the network receipt of a transmitted invoice
func (s *Server) handleAcknowledgement(c *gin.Context) {
	data, err := s.pipeline.Acknowledgement(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errorStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

// invoiceFromBody decodes a JSON invoice or extracts one from a document
func (s *Server) invoiceFromBody(c *gin.Context, body []byte) (*model.ExtractedInvoiceData, int, error) {
	if isJSON(c) {
		var inv model.ExtractedInvoiceData
		if err := binding.JSON.BindBody(body, &inv); err != nil {
			return nil, http.StatusBadRequest, err
		}
		return &inv, http.StatusOK, nil
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.ExtractTimeout)
	defer cancel()

	result := s.pipeline.Process(ctx, body, imageMimeType(c))
	if result.Error != nil {
		return nil, extractionStatus(result.Error), result.Error
	}
	return result.Invoice, http.StatusOK, nil
}

func isJSON(c *gin.Context) bool {
	return c.ContentType() == binding.MIMEJSON
}

// imageMimeType keeps the declared content type only when it names an image
func imageMimeType(c *gin.Context) string {
	ct := c.ContentType()
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return ""
}

func extractionStatus(err error) int {
	if errors.Is(err, processor.ErrLLMNotConfigured) {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnprocessableEntity
}

func errorStatus(err error) int {
	var transitionErr *model.InvalidTransitionError
	var validationErr *model.ValidationError
	var authErr *model.AuthenticationError
	var providerErr *model.ProviderError

	switch {
	case errors.Is(err, processor.ErrUnknownInvoice), errors.Is(err, processor.ErrNotTransmitted), errors.Is(err, processor.ErrAcknowledgementPending):
		return http.StatusNotFound
	case errors.Is(err, processor.ErrNotCompliant), errors.Is(err, processor.ErrInvoiceLocked), errors.As(err, &transitionErr):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrProviderNotRegistered), errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, processor.ErrNoRenderer):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrAcknowledgementUnsupported):
		return http.StatusNotImplemented
	case errors.As(err, &authErr), errors.As(err, &providerErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func detectMimeType(data []byte) string {
	switch processor.DetectFormat(data) {
	case processor.FormatXML:
		return "application/xml"
	case processor.FormatPDF:
		return "application/pdf"
	case processor.FormatText:
		return "text/plain"
	case processor.FormatImage:
		switch {
		case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
			return "image/png"
		case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
			return "image/jpeg"
		default:
			return "image/tiff"
		}
	}
	return "application/octet-stream"
}
