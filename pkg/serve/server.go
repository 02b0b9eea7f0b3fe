// Package serve exposes a scanner Core as a long-lived NDJSON service:
// one JSON request per input line, one JSON response per output line.
package serve

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/praetorian-inc/augur/pkg/scanner"
)

// Version is the server protocol version
const Version = "1.0.0"

// Server manages the streaming scanner
type Server struct {
	core    *scanner.Core
	encoder *json.Encoder
	decoder *json.Decoder
	logger  *slog.Logger
}

// NewServer creates a new streaming server
func NewServer(core *scanner.Core, in io.Reader, out io.Writer) *Server {
	return &Server{
		core:    core,
		encoder: json.NewEncoder(out),
		decoder: json.NewDecoder(bufio.NewReader(in)),
		logger:  slog.Default(),
	}
}

// WithLogger sets the server logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

// Run starts the server main loop
func (s *Server) Run(ctx context.Context) error {
	// Send ready signal
	s.sendReady()

	// Use buffered channels for incoming requests
	reqChan := make(chan Request, 1)
	errChan := make(chan error, 1)

	go func() {
		for {
			var req Request
			if err := s.decoder.Decode(&req); err != nil {
				errChan <- err
				return
			}
			select {
			case reqChan <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Process requests until stdin closes or context cancels
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			// Drain any pending requests before handling EOF
			for {
				select {
				case req := <-reqChan:
					if s.processRequest(req) {
						return nil
					}
				default:
					if err == io.EOF {
						return nil
					}
					s.sendError("decode", err.Error())
					return nil
				}
			}
		case req := <-reqChan:
			if s.processRequest(req) {
				return nil
			}
		}
	}
}

// processRequest handles a single request and returns true if the server should exit
func (s *Server) processRequest(req Request) bool {
	s.logger.Debug("request", "type", req.Type)
	switch req.Type {
	case TypeScan:
		s.handleScan(req.Payload)
	case TypeScanBatch:
		s.handleScanBatch(req.Payload)
	case TypeRules:
		s.handleRules()
	case TypeClose:
		return true
	default:
		s.sendError("unknown", "unknown request type: "+req.Type)
	}
	return false
}

func (s *Server) sendReady() {
	rules := s.core.Rules()
	s.send(TypeReady, ReadyData{
		Version:     Version,
		Ruleset:     rules.Ruleset().Name,
		Fingerprint: rules.Fingerprint(),
		Rules:       len(rules.Ruleset().Rules),
	})
}

func (s *Server) handleScan(payload json.RawMessage) {
	var p ScanPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.sendError(TypeScan, err.Error())
		return
	}
	content, err := decodeContent(p.Content, p.Encoding)
	if err != nil {
		s.sendError(TypeScan, err.Error())
		return
	}

	result, err := s.core.Scan(content, p.Source)
	if err != nil {
		s.sendError(TypeScan, err.Error())
		return
	}
	s.send(TypeScan, result)
}

func (s *Server) handleScanBatch(payload json.RawMessage) {
	var p ScanBatchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.sendError(TypeScanBatch, err.Error())
		return
	}
	for i := range p.Items {
		content, err := decodeContent(p.Items[i].Content, p.Encoding)
		if err != nil {
			s.sendError(TypeScanBatch, fmt.Sprintf("item %d: %v", i, err))
			return
		}
		p.Items[i].Content = content
	}

	result, err := s.core.ScanBatch(p.Items)
	if err != nil {
		s.sendError(TypeScanBatch, err.Error())
		return
	}
	s.send(TypeScanBatch, result)
}

func (s *Server) handleRules() {
	rules := s.core.Rules()
	rs := rules.Ruleset()
	data := RulesData{
		Ruleset:     rs.Name,
		Fingerprint: rules.Fingerprint(),
		Rules:       make([]RuleInfo, len(rs.Rules)),
	}
	for i, r := range rs.Rules {
		data.Rules[i] = RuleInfo{ID: r.ID, Name: r.Name, Tags: r.Tags, Private: r.Private, Global: r.Global}
	}
	s.send(TypeRules, data)
}

func (s *Server) send(typ string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.sendError(typ, err.Error())
		return
	}
	if err := s.encoder.Encode(Response{Success: true, Type: typ, Data: data}); err != nil {
		s.logger.Error("failed to write response", "type", typ, "error", err)
	}
}

func (s *Server) sendError(reqType, msg string) {
	s.logger.Debug("request failed", "type", reqType, "error", msg)
	if err := s.encoder.Encode(Response{Success: false, Type: reqType, Error: msg}); err != nil {
		s.logger.Error("failed to write response", "type", reqType, "error", err)
	}
}

// decodeContent returns the raw bytes of content as a string.
func decodeContent(content, encoding string) (string, error) {
	switch encoding {
	case "":
		return content, nil
	case EncodingBase64:
		raw, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return "", fmt.Errorf("decoding base64 content: %w", err)
		}
		return string(raw), nil
	default:
		return "", fmt.Errorf("unknown content encoding %q", encoding)
	}
}
