package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peerchat/peerchat-node/pkg/protocol"
	"github.com/peerchat/peerchat-node/pkg/server"
)

// SessionEntry is one row of the session table as exposed over HTTP
type SessionEntry struct {
	Address string `json:"address"`
	State   string `json:"state"`
	Email   string `json:"email,omitempty"`
}

// SessionsResponse lists every known session
type SessionsResponse struct {
	Success  bool           `json:"success"`
	Count    int            `json:"count"`
	Sessions []SessionEntry `json:"sessions"`
}

// handleSessions handles GET /api/v1/sessions
func (s *Server) handleSessions(c *gin.Context) {
	infos, err := s.engine.Sessions()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Engine unavailable",
			Message: err.Error(),
		})
		return
	}

	entries := make([]SessionEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, SessionEntry{
			Address: string(info.Address),
			State:   info.State,
			Email:   info.Email,
		})
	}

	c.JSON(http.StatusOK, SessionsResponse{
		Success:  true,
		Count:    len(entries),
		Sessions: entries,
	})
}

// handleApprove handles POST /api/v1/sessions/:address/approve
func (s *Server) handleApprove(c *gin.Context) {
	addr := protocol.Address(c.Param("address"))
	if addr == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Missing address",
		})
		return
	}

	err := s.engine.Approve(addr)
	switch {
	case errors.Is(err, server.ErrNotPending):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "Not pending approval",
			Message: err.Error(),
		})
		return
	case errors.Is(err, server.ErrNotRunning):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Engine unavailable",
			Message: err.Error(),
		})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Approval failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: fmt.Sprintf("Session %s approved", addr),
	})
}

// ChannelEntry is one channel summary
type ChannelEntry struct {
	Name         string   `json:"name"`
	Members      []string `json:"members"`
	MessageCount int      `json:"messageCount"`
}

// ChannelsResponse lists every channel
type ChannelsResponse struct {
	Success  bool           `json:"success"`
	Count    int            `json:"count"`
	Channels []ChannelEntry `json:"channels"`
}

// handleChannels handles GET /api/v1/channels
func (s *Server) handleChannels(c *gin.Context) {
	infos, err := s.engine.Channels()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Engine unavailable",
			Message: err.Error(),
		})
		return
	}

	entries := make([]ChannelEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, channelEntry(info))
	}

	c.JSON(http.StatusOK, ChannelsResponse{
		Success:  true,
		Count:    len(entries),
		Channels: entries,
	})
}

// ChannelResponse is one channel with its recent history, newest first
type ChannelResponse struct {
	Success  bool                   `json:"success"`
	Channel  ChannelEntry           `json:"channel"`
	Messages []protocol.WireMessage `json:"messages"`
}

// handleChannel handles GET /api/v1/channels/:name
func (s *Server) handleChannel(c *gin.Context) {
	name := protocol.ChannelName(c.Param("name"))

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid limit",
				Message: "limit must be a non-negative number",
			})
			return
		}
		limit = parsed
	}

	info, messages, err := s.engine.ChannelSnapshot(name, limit)
	switch {
	case errors.Is(err, server.ErrUnknownChannel):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Unknown channel",
			Message: fmt.Sprintf("No channel named %q", name),
		})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Engine unavailable",
			Message: err.Error(),
		})
		return
	}

	wire := make([]protocol.WireMessage, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, protocol.WireMessage{
			User:    msg.Author,
			Content: msg.Content,
			Time:    msg.SentAt.UnixMilli(),
		})
	}

	c.JSON(http.StatusOK, ChannelResponse{
		Success:  true,
		Channel:  channelEntry(*info),
		Messages: wire,
	})
}

// StatusResponse reports engine counters
type StatusResponse struct {
	Success           bool   `json:"success"`
	Version           string `json:"version"`
	UptimeSeconds     int64  `json:"uptimeSeconds"`
	Connections       int    `json:"connections"`
	Sessions          int    `json:"sessions"`
	Channels          int    `json:"channels"`
	MessagesCommitted uint64 `json:"messagesCommitted"`
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(c *gin.Context) {
	stats, err := s.engine.GetStats()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Engine unavailable",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		Success:           true,
		Version:           protocol.ProtocolVersion,
		UptimeSeconds:     int64(stats.Uptime / time.Second),
		Connections:       stats.Connections,
		Sessions:          stats.Sessions,
		Channels:          stats.Channels,
		MessagesCommitted: stats.MessagesCommitted,
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": protocol.ProtocolVersion,
	})
}

func channelEntry(info server.ChannelInfo) ChannelEntry {
	members := make([]string, 0, len(info.Members))
	for _, m := range info.Members {
		members = append(members, string(m))
	}
	return ChannelEntry{
		Name:         string(info.Name),
		Members:      members,
		MessageCount: info.MessageCount,
	}
}
