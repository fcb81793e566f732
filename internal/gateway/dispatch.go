package gateway

import (
	"context"
	"errors"

	"github.com/haldvik/lookout/internal/caption"
	"github.com/haldvik/lookout/internal/executive"
	"github.com/haldvik/lookout/internal/logx"
	"github.com/haldvik/lookout/internal/metrics"
	"github.com/haldvik/lookout/internal/motion"
	"github.com/haldvik/lookout/internal/protocol"
)

// handleFrame processes one binary frame envelope. The receipt is enqueued
// before any derived work starts, so the producer always observes the ack for
// frame N ahead of anything frame N caused.
func (s *Server) handleFrame(p *producer, data []byte) {
	env, err := protocol.DecodeFrame(data)
	if err != nil {
		code := protocol.CodeInvalidMessage
		frameID := ""
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			code = de.Code
			frameID = de.FrameID
		}
		s.sendError(p, code, "malformed frame envelope", frameID)
		return
	}

	res := s.broker.Push(env)
	metrics.RecordFrame(res.Accepted)
	metrics.ObserveBroker(res.QueueDepth, res.Dropped)

	ack := protocol.FrameReceived{
		Type:       "frame_received",
		V:          protocol.Version,
		FrameID:    env.FrameID,
		TSMS:       env.TSMS,
		Accepted:   res.Accepted,
		QueueDepth: res.QueueDepth,
		Dropped:    res.Dropped,
	}
	var mres motion.Result
	if res.Accepted {
		mres = s.gate.Process(env.Bytes)
		ack.Motion = &protocol.MotionInfo{MAD: mres.Score, Triggered: mres.Triggered}
	}
	s.send(p, ack)
	if !res.Accepted {
		return
	}

	if mres.Triggered {
		metrics.RecordMotionTrigger()
		logx.Log.Debug().Str("frame_id", env.FrameID).Float64("score", mres.Score).Msg("motion trigger")
		s.captions.Schedule(env.FrameID)
	}
	s.maybeForward(p, env.FrameID, data)
}

// maybeForward samples accepted frames onto the vision link, registering the
// route first so the eventual reply can find its producer. A failed send
// unwinds the route immediately; there is no retry for individual frames.
func (s *Server) maybeForward(p *producer, frameID string, raw []byte) {
	if s.link == nil || !s.cfg.VisionForward {
		return
	}
	s.forwardCount++
	n := s.cfg.VisionSampleEveryN
	if n <= 0 {
		n = 1
	}
	if s.forwardCount%uint64(n) != 0 {
		return
	}
	s.routes.Set(frameID, p)
	if err := s.link.SendBinary(raw); err != nil {
		s.routes.Delete(frameID)
		if s.warn.Allow("vision_forward") {
			logx.Log.Warn().Err(err).Str("frame_id", frameID).Msg("frame forward failed")
		}
		return
	}
	metrics.RecordVisionForward()
}

// handleText processes one text message from the producer.
func (s *Server) handleText(p *producer, data []byte) {
	typ, ok := protocol.MessageType(data)
	if !ok {
		s.sendError(p, protocol.CodeBadJSON, "message requires a type field", "")
		return
	}
	switch typ {
	case "hello":
		m, verr := protocol.ParseHello(data)
		if verr != nil {
			s.sendError(p, verr.Code, verr.Message, "")
			return
		}
		p.client = m.Client
		p.sessionID = m.SessionID
		logx.Log.Info().Str("client_id", p.id).Str("client", m.Client).Msg("producer hello")
	case "command":
		s.handleCommand(p, data)
	case "chat":
		s.handleChat(p, data)
	default:
		s.sendError(p, protocol.CodeUnknownType, "unknown message type "+typ, "")
	}
}

func (s *Server) handleCommand(p *producer, data []byte) {
	m, verr := protocol.ParseCommand(data)
	if verr != nil {
		s.sendError(p, verr.Code, verr.Message, "")
		return
	}
	switch m.Name {
	case "status":
		s.send(p, statusMessage{
			Type: "status",
			V:    protocol.Version,
			TSMS: s.nowMS(),
			Data: s.statusSnapshot(),
		})
	case "reset_motion":
		s.gate.Reset()
		logx.Log.Info().Str("client_id", p.id).Msg("motion state reset")
	default:
		s.sendError(p, protocol.CodeUnknownCommand, "unknown command "+m.Name, "")
	}
}

// handleChat forwards the request to the executive off-loop; the reply
// re-enters through post and is dropped if the producer has since gone away.
func (s *Server) handleChat(p *producer, data []byte) {
	m, verr := protocol.ParseChat(data)
	if verr != nil {
		s.sendError(p, verr.Code, verr.Message, "")
		return
	}
	if !s.exec.Enabled() {
		s.sendError(p, protocol.CodeExecutiveDown, "no executive configured", "")
		return
	}
	req := executive.RespondRequest{RequestID: m.RequestID, SessionID: p.sessionID, Text: m.Text}
	go func() {
		res, err := s.exec.Respond(context.Background(), req)
		s.post(func() {
			if s.producer != p {
				return
			}
			if err != nil {
				if s.warn.Allow("executive_respond") {
					logx.Log.Warn().Err(err).Str("request_id", m.RequestID).Msg("executive respond failed")
				}
				s.sendError(p, protocol.CodeExecutiveDown, "executive request failed", "")
				return
			}
			s.send(p, protocol.TextOutput{
				Type:      "text_output",
				V:         protocol.Version,
				RequestID: m.RequestID,
				SessionID: p.sessionID,
				TSMS:      s.nowMS(),
				Text:      res.Text,
				Meta:      res.Meta,
			})
		})
	}()
}

// handleVisionMessage processes one text message from the vision link.
func (s *Server) handleVisionMessage(data []byte) {
	typ, ok := protocol.MessageType(data)
	if !ok {
		logx.Log.Debug().Msg("unparseable vision message dropped")
		return
	}
	switch typ {
	case "frame_events":
		s.handleFrameEvents(data)
	case "insight":
		s.handleInsight(data)
	default:
		logx.Log.Debug().Str("type", typ).Msg("unhandled vision message type")
	}
}

func (s *Server) handleFrameEvents(data []byte) {
	m, verr := protocol.ParseFrameEvents(data)
	if verr != nil {
		if s.warn.Allow("vision_frame_events") {
			logx.Log.Warn().Str("code", verr.Code).Str("detail", verr.Message).Msg("invalid frame_events from vision service")
		}
		return
	}
	if owner, ok := s.routes.Take(m.FrameID); ok {
		if p, isP := owner.(*producer); isP && p == s.producer {
			s.sendRaw(p, data)
		}
	}
	if len(m.Events) == 0 {
		return
	}
	batch := executive.EventBatch{Source: "vision", TSMS: m.TSMS, FrameID: m.FrameID, Events: m.Events}
	s.exec.IngestEvents(batch)
	if s.journal != nil {
		s.journal.Append(batch)
	}
}

// handleInsight applies the utterance and relay gates independently: a clip
// may speak without relaying, relay without speaking, or both.
func (s *Server) handleInsight(data []byte) {
	m, verr := protocol.ParseInsight(data)
	if verr != nil {
		if s.warn.Allow("vision_insight") {
			logx.Log.Warn().Str("code", verr.Code).Str("detail", verr.Message).Msg("invalid insight from vision service")
		}
		return
	}
	if text, ok := s.insights.Utterance(m); ok {
		metrics.RecordUtterance()
		s.send(s.producer, protocol.TextOutput{
			Type: "text_output",
			V:    protocol.Version,
			TSMS: s.nowMS(),
			Text: text,
			Meta: map[string]any{"kind": "utterance", "clip_id": m.ClipID},
		})
	}
	if s.insights.ShouldRelay(m.ClipID) {
		metrics.RecordInsightRelayed()
		s.sendRaw(s.producer, data)
	}

	sev := m.Summary.Severity
	switch sev {
	case protocol.SeverityLow, protocol.SeverityMedium, protocol.SeverityHigh:
	default:
		sev = protocol.SeverityLow
	}
	batch := executive.EventBatch{
		Source: "insight",
		TSMS:   m.TSMS,
		ClipID: m.ClipID,
		Events: []protocol.Event{{
			Name:     "insight",
			TSMS:     m.TSMS,
			Severity: sev,
			Data:     map[string]any{"one_liner": m.Summary.OneLiner, "tags": m.Summary.Tags},
		}},
	}
	s.exec.IngestEvents(batch)
	if s.journal != nil {
		s.journal.Append(batch)
	}
}

// emitCaption publishes one finished caption as a frame_events message and
// mirrors it to the executive and the journal.
func (s *Server) emitCaption(env protocol.FrameEnvelope, res caption.Result) {
	now := s.nowMS()
	msg := protocol.FrameEvents{
		Type:    "frame_events",
		V:       protocol.Version,
		FrameID: env.FrameID,
		TSMS:    now,
		Width:   env.Width,
		Height:  env.Height,
		Events: []protocol.Event{{
			Name:     "caption",
			TSMS:     now,
			Severity: protocol.SeverityLow,
			Data:     map[string]any{"text": res.Text, "model": res.Model, "latency_ms": res.LatencyMS},
		}},
	}
	s.send(s.producer, msg)
	batch := executive.EventBatch{Source: "caption", TSMS: now, FrameID: env.FrameID, Events: msg.Events}
	s.exec.IngestEvents(batch)
	if s.journal != nil {
		s.journal.Append(batch)
	}
}
