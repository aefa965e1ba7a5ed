// Package ldap implements the source hierarchy provider over an Active
// Directory style LDAP server: the managed subtree is rooted at a
// configured group DN, nesting is resolved through memberOf, and person
// records attach to groups through a configurable member-key attribute.
package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	ldapv3 "github.com/go-ldap/ldap/v3"

	"github.com/alavret/sync-deps-from-hub-v2/pkg/errors"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/hierarchy"
	"github.com/alavret/sync-deps-from-hub-v2/pkg/logging"
)

// DefaultMemberKeyAttribute links person records to their group.
const DefaultMemberKeyAttribute = "extensionAttribute14"

// DefaultPageSize is the paged-search page size.
const DefaultPageSize = 500

// Config carries the connection and search settings.
type Config struct {
	Host     string
	Port     int
	UseSSL   bool
	Insecure bool // skip TLS certificate verification

	BindDN   string
	Password string

	// BaseDN scopes every subtree search.
	BaseDN string

	// RootGroupDN is the group anchoring the managed subtree.
	RootGroupDN string

	// MemberKeyAttribute is the person attribute naming the group a
	// person belongs to (matched against the group's account name).
	MemberKeyAttribute string

	PageSize uint32
}

func (c *Config) withDefaults() {
	if c.MemberKeyAttribute == "" {
		c.MemberKeyAttribute = DefaultMemberKeyAttribute
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
}

// searcher is the subset of the LDAP connection the source uses.
type searcher interface {
	Bind(username, password string) error
	Search(req *ldapv3.SearchRequest) (*ldapv3.SearchResult, error)
	SearchWithPaging(req *ldapv3.SearchRequest, pageSize uint32) (*ldapv3.SearchResult, error)
	Close() error
}

var groupAttributes = []string{"cn", "displayName", "mail", "sAMAccountName", "objectGUID", "distinguishedName"}

// Source walks the group tree and the person records of one directory.
type Source struct {
	conn searcher
	cfg  Config

	// dn holds each emitted group's DN for child searches; the encoder's
	// group value does not carry it.
	mu sync.Mutex
	dn map[string]string

	membersOnce sync.Once
	membersErr  error
	members     map[string][]hierarchy.SourceMember
}

var _ hierarchy.Source = (*Source)(nil)

// New creates a Source over an established connection, for tests and
// custom dialing.
func New(conn searcher, cfg Config) *Source {
	cfg.withDefaults()
	return &Source{conn: conn, cfg: cfg, dn: map[string]string{}}
}

// Connect dials and binds, returning a ready Source.
func Connect(cfg Config) (*Source, error) {
	cfg.withDefaults()

	scheme := "ldap"
	if cfg.UseSSL {
		scheme = "ldaps"
	}
	url := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)

	var opts []ldapv3.DialOpt
	if cfg.UseSSL && cfg.Insecure {
		opts = append(opts, ldapv3.DialWithTLSConfig(&tls.Config{InsecureSkipVerify: true}))
	}

	conn, err := ldapv3.DialURL(url, opts...)
	if err != nil {
		return nil, errors.NewSourceError("dial", "LDAP server is unreachable", err)
	}
	if err := conn.Bind(cfg.BindDN, cfg.Password); err != nil {
		if cerr := conn.Close(); cerr != nil {
			logging.Debug().Err(cerr).Msg("LDAP connection close failed")
		}
		return nil, errors.NewSourceError("bind", "LDAP bind rejected", err)
	}

	logging.Info().Str("url", url).Msg("Connected to source directory")
	return New(conn, cfg), nil
}

// Close releases the underlying connection.
func (s *Source) Close() error {
	return s.conn.Close()
}

// Ping re-binds with the configured credentials.
func (s *Source) Ping(_ context.Context) error {
	if err := s.conn.Bind(s.cfg.BindDN, s.cfg.Password); err != nil {
		return errors.NewSourceError("bind", "LDAP bind rejected", err)
	}
	return nil
}

// RootGroup resolves the configured root group DN.
func (s *Source) RootGroup(_ context.Context) (hierarchy.SourceGroup, error) {
	req := ldapv3.NewSearchRequest(
		s.cfg.RootGroupDN,
		ldapv3.ScopeBaseObject, ldapv3.NeverDerefAliases, 0, 0, false,
		"(objectClass=group)",
		groupAttributes,
		nil,
	)
	res, err := s.conn.Search(req)
	if err != nil {
		return hierarchy.SourceGroup{}, errors.NewSourceError("search", "root group lookup failed", err)
	}
	if len(res.Entries) == 0 {
		return hierarchy.SourceGroup{}, errors.NewNotFoundError("group", s.cfg.RootGroupDN)
	}
	return s.toGroup(res.Entries[0]), nil
}

// ChildGroups lists the groups that are direct members of parent.
func (s *Source) ChildGroups(_ context.Context, parent hierarchy.SourceGroup) ([]hierarchy.SourceGroup, error) {
	parentDN, ok := s.lookupDN(parent)
	if !ok {
		return nil, errors.NewSourceError("search", "unknown parent group: "+parent.Name, nil)
	}

	req := ldapv3.NewSearchRequest(
		s.cfg.BaseDN,
		ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(&(objectClass=group)(memberOf=%s))", ldapv3.EscapeFilter(parentDN)),
		groupAttributes,
		nil,
	)
	res, err := s.conn.SearchWithPaging(req, s.cfg.PageSize)
	if err != nil {
		return nil, errors.NewSourceError("search", "child group search failed under "+parentDN, err)
	}

	groups := make([]hierarchy.SourceGroup, 0, len(res.Entries))
	for _, entry := range res.Entries {
		groups = append(groups, s.toGroup(entry))
	}
	return groups, nil
}

// GroupMembers lists the person records attached to group. Person records
// are loaded once for the whole run and indexed by member key.
func (s *Source) GroupMembers(ctx context.Context, group hierarchy.SourceGroup) ([]hierarchy.SourceMember, error) {
	s.membersOnce.Do(func() { s.membersErr = s.loadMembers(ctx) })
	if s.membersErr != nil {
		return nil, s.membersErr
	}
	if group.MemberKey == "" {
		return nil, nil
	}
	return s.members[strings.ToLower(group.MemberKey)], nil
}

// loadMembers fetches every person record carrying the member-key
// attribute in one paged search.
func (s *Source) loadMembers(_ context.Context) error {
	req := ldapv3.NewSearchRequest(
		s.cfg.BaseDN,
		ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(&(objectCategory=person)(%s=*))", s.cfg.MemberKeyAttribute),
		[]string{"displayName", "cn", "mail", s.cfg.MemberKeyAttribute},
		nil,
	)
	res, err := s.conn.SearchWithPaging(req, s.cfg.PageSize)
	if err != nil {
		return errors.NewSourceError("search", "person search failed", err)
	}

	s.members = map[string][]hierarchy.SourceMember{}
	skipped := 0
	for _, entry := range res.Entries {
		key := strings.ToLower(strings.TrimSpace(entry.GetAttributeValue(s.cfg.MemberKeyAttribute)))
		mail := strings.TrimSpace(entry.GetAttributeValue("mail"))
		if key == "" || mail == "" {
			skipped++
			continue
		}
		name := entry.GetAttributeValue("displayName")
		if name == "" {
			name = entry.GetAttributeValue("cn")
		}
		s.members[key] = append(s.members[key], hierarchy.SourceMember{
			DisplayName: name,
			Email:       mail,
			Key:         key,
		})
	}

	logging.Info().
		Int("persons", len(res.Entries)).
		Int("skipped", skipped).
		Msg("Loaded person records from source directory")
	return nil
}

// toGroup converts a group entry, remembering its DN for child searches.
func (s *Source) toGroup(entry *ldapv3.Entry) hierarchy.SourceGroup {
	name := entry.GetAttributeValue("displayName")
	if name == "" {
		name = entry.GetAttributeValue("cn")
	}

	g := hierarchy.SourceGroup{
		Name:       strings.TrimSpace(name),
		ExternalID: formatGUID(entry.GetRawAttributeValue("objectGUID")),
		Mail:       strings.TrimSpace(entry.GetAttributeValue("mail")),
		MemberKey:  strings.TrimSpace(entry.GetAttributeValue("sAMAccountName")),
	}

	s.mu.Lock()
	s.dn[groupKey(g)] = entry.DN
	s.mu.Unlock()
	return g
}

// lookupDN resolves a previously emitted group back to its DN.
func (s *Source) lookupDN(g hierarchy.SourceGroup) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dn, ok := s.dn[groupKey(g)]
	return dn, ok
}

func groupKey(g hierarchy.SourceGroup) string {
	if g.ExternalID != "" {
		return g.ExternalID
	}
	return g.Name + "\x00" + g.MemberKey
}
