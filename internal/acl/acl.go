// Package acl evaluates write permissions for tracked documents.
//
// Rules come from an ACL definition tree:
//
//	<acls>
//	  <acl_role id="operator">
//	    <acl_permission id="p1" kind="write" path="/cluster/status"/>
//	  </acl_role>
//	  <acl_target id="alice">
//	    <role id="operator"/>
//	    <acl_permission id="p2" kind="deny" path="/cluster/configuration" attribute="epoch"/>
//	  </acl_target>
//	</acls>
//
// The most specific matching permission wins; deny beats write at equal
// specificity, and an unprivileged user with no matching permission may not
// write.
package acl

import (
	"fmt"

	"cfgsync/internal/tree"
	"cfgsync/internal/xpath"

	"go.uber.org/zap"
)

type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
	KindDeny  Kind = "deny"
)

// DefaultPrivileged users bypass evaluation.
var DefaultPrivileged = []string{"root", "hacluster"}

// Permission is one rule.
type Permission struct {
	ID        string
	Kind      Kind
	Path      xpath.Path
	Attribute string
}

// Gate implements tree.ACLGate for one user.
type Gate struct {
	user        string
	privileged  bool
	permissions []Permission
	logger      *zap.Logger
}

var _ tree.ACLGate = (*Gate)(nil)

// Options configures a Gate.
type Options struct {
	Privileged []string
	Logger     *zap.Logger
}

// New unpacks the rules in source that apply to user. A nil source yields a
// gate with no permissions.
func New(source *tree.Node, user string, opts Options) (*Gate, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Privileged == nil {
		opts.Privileged = DefaultPrivileged
	}

	g := &Gate{user: user, logger: opts.Logger}
	for _, p := range opts.Privileged {
		if p == user {
			g.privileged = true
		}
	}
	if source == nil || g.privileged {
		return g, nil
	}

	acls := source
	if acls.Name() != "acls" {
		acls = findDescendant(source, "acls")
	}
	if acls == nil {
		return g, nil
	}

	roles := map[string]*tree.Node{}
	for _, c := range acls.Children() {
		if c.Name() == "acl_role" {
			if id, ok := c.ID(); ok {
				roles[id] = c
			}
		}
	}

	for _, target := range acls.Children() {
		if target.Name() != "acl_target" {
			continue
		}
		if id, _ := target.ID(); id != user {
			continue
		}
		for _, c := range target.Children() {
			switch c.Name() {
			case "acl_permission":
				p, err := parsePermission(c)
				if err != nil {
					return nil, err
				}
				g.permissions = append(g.permissions, p)
			case "role":
				id, _ := c.ID()
				role, ok := roles[id]
				if !ok {
					return nil, fmt.Errorf("acl target %s: unknown role %q", user, id)
				}
				for _, rc := range role.Children() {
					if rc.Name() != "acl_permission" {
						continue
					}
					p, err := parsePermission(rc)
					if err != nil {
						return nil, err
					}
					g.permissions = append(g.permissions, p)
				}
			}
		}
	}

	g.logger.Debug("unpacked acl rules",
		zap.String("user", user),
		zap.Int("permissions", len(g.permissions)))
	return g, nil
}

func parsePermission(n *tree.Node) (Permission, error) {
	id, _ := n.ID()
	kind := Kind(n.AttrOr("kind", ""))
	switch kind {
	case KindRead, KindWrite, KindDeny:
	default:
		return Permission{}, fmt.Errorf("acl permission %s: unknown kind %q", id, kind)
	}
	path, err := xpath.Parse(n.AttrOr("path", ""))
	if err != nil {
		return Permission{}, fmt.Errorf("acl permission %s: %w", id, err)
	}
	return Permission{
		ID:        id,
		Kind:      kind,
		Path:      path,
		Attribute: n.AttrOr("attribute", ""),
	}, nil
}

func findDescendant(n *tree.Node, name string) *tree.Node {
	var found *tree.Node
	n.Walk(func(c *tree.Node) bool {
		if found != nil {
			return false
		}
		if c.Name() == name && !c.IsComment() {
			found = c
			return false
		}
		return true
	})
	return found
}

func (g *Gate) User() string { return g.user }

// IsWriteAllowed reports whether the user may change n (attr == "") or one
// of its attributes.
func (g *Gate) IsWriteAllowed(n *tree.Node, attr string) bool {
	if g.privileged {
		return true
	}
	path := n.PathSegments()

	best := -1
	var kind Kind
	for _, p := range g.permissions {
		if p.Attribute != "" && p.Attribute != attr {
			continue
		}
		if !covers(p.Path, path) {
			continue
		}
		score := 2 * len(p.Path)
		if p.Attribute != "" {
			score++
		}
		switch {
		case score > best:
			best, kind = score, p.Kind
		case score == best && p.Kind == KindDeny:
			kind = KindDeny
		}
	}
	return best >= 0 && kind == KindWrite
}

// covers reports whether rule addresses path or one of its ancestors. A rule
// segment without an id matches any id.
func covers(rule, path xpath.Path) bool {
	if len(rule) > len(path) {
		return false
	}
	for i, seg := range rule {
		if seg.Name != path[i].Name {
			return false
		}
		if seg.HasID && (!path[i].HasID || seg.ID != path[i].ID) {
			return false
		}
	}
	return true
}

// Apply reverts pending creations the user is not allowed to make.
// Modifications and deletions are refused when attempted, so only
// creations made before the gate was installed need reverting.
func (g *Gate) Apply(d *tree.Document) {
	if g.privileged || d.Root() == nil {
		return
	}
	d.Root().Walk(func(n *tree.Node) bool {
		if n.Flags().Has(tree.FlagCreated) && n != d.Root() && !g.IsWriteAllowed(n, "") {
			g.logger.Debug("reverting disallowed creation", zap.String("path", n.Path()))
			n.Discard()
			return false
		}
		var revert []string
		for _, a := range n.RawAttrs() {
			if a.Flags.Has(tree.FlagCreated) && !g.IsWriteAllowed(n, a.Name) {
				revert = append(revert, a.Name)
			}
		}
		for _, name := range revert {
			g.logger.Debug("reverting disallowed attribute",
				zap.String("path", n.Path()), zap.String("attr", name))
			n.RemoveAttrUntracked(name)
		}
		return true
	})
}
