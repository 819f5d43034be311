package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/square-key-labs/omni-ai/src/store"
)

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalid(key + " must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) analyticsStats(c *gin.Context) {
	days, err := queryInt(c, "days", 7)
	if err != nil {
		s.fail(c, err)
		return
	}
	stats, err := s.tracker.Stats(c.Request.Context(), days)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) analyticsConversations(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		s.fail(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	convs, err := s.tracker.Conversations(c.Request.Context(), store.ConversationQuery{
		Limit:   limit,
		Offset:  offset,
		Channel: store.Channel(c.Query("channel")),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if convs == nil {
		convs = []store.ConversationRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) analyticsTraffic(c *gin.Context) {
	hours, err := queryInt(c, "hours", 24)
	if err != nil {
		s.fail(c, err)
		return
	}
	points, err := s.tracker.Traffic(c.Request.Context(), hours)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"traffic": points})
}

func (s *Server) listDomains(c *gin.Context) {
	records, err := s.deps.Store.ListDomainRecords(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if records == nil {
		records = []store.DomainRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"domains": records})
}

// decodeFields reads a JSON object keeping field presence, so partial
// updates can tell an omitted field from a zero value.
func decodeFields(c *gin.Context) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(c.Request.Body).Decode(&fields); err != nil || fields == nil {
		return nil, invalid("Invalid JSON")
	}
	return fields, nil
}

func stringField(fields map[string]json.RawMessage, name string) (*string, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, nil
	}
	var v *string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, invalid(name + " must be a string")
	}
	return v, nil
}

func boolField(fields map[string]json.RawMessage, name string) (*bool, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, invalid(name + " must be a boolean")
	}
	return &v, nil
}

func (s *Server) createDomain(c *gin.Context) {
	fields, err := decodeFields(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	rec := store.DomainRecord{PrimaryColor: "#6366f1", Active: true}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"domain", &rec.Domain},
		{"display_name", &rec.DisplayName},
		{"system_prompt", &rec.SystemPrompt},
		{"greeting", &rec.Greeting},
	} {
		v, err := stringField(fields, f.name)
		if err != nil {
			s.fail(c, err)
			return
		}
		if v == nil {
			s.fail(c, invalid(f.name+" is required"))
			return
		}
		*f.dst = *v
	}
	if v, err := stringField(fields, "primary_color"); err != nil {
		s.fail(c, err)
		return
	} else if v != nil {
		rec.PrimaryColor = *v
	}
	if rec.LogoURL, err = stringField(fields, "logo_url"); err != nil {
		s.fail(c, err)
		return
	}
	if v, err := boolField(fields, "active"); err != nil {
		s.fail(c, err)
		return
	} else if v != nil {
		rec.Active = *v
	}

	if err := s.deps.Store.CreateDomainRecord(c.Request.Context(), rec); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) updateDomain(c *gin.Context) {
	fields, err := decodeFields(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	domain, err := stringField(fields, "domain")
	if err != nil {
		s.fail(c, err)
		return
	}
	if domain == nil || *domain == "" {
		s.fail(c, invalid("domain is required"))
		return
	}

	var u store.DomainUpdate
	for _, f := range []struct {
		name string
		dst  **string
	}{
		{"display_name", &u.DisplayName},
		{"system_prompt", &u.SystemPrompt},
		{"greeting", &u.Greeting},
		{"primary_color", &u.PrimaryColor},
		{"logo_url", &u.LogoURL},
	} {
		if *f.dst, err = stringField(fields, f.name); err != nil {
			s.fail(c, err)
			return
		}
	}
	if u.Active, err = boolField(fields, "active"); err != nil {
		s.fail(c, err)
		return
	}

	if !u.Empty() {
		if err := s.deps.Store.UpdateDomainRecord(c.Request.Context(), *domain, u); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) listVoices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"voices": s.deps.Catalog.Voices()})
}
