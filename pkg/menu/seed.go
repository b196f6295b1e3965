package menu

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/govrec/govrec/pkg/security"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type seedFile struct {
	Menus []seedNode `yaml:"menus"`
}

type seedNode struct {
	Code     string            `yaml:"code"`
	Name     string            `yaml:"name"`
	NameEn   string            `yaml:"nameEn"`
	URL      string            `yaml:"url"`
	Icon     string            `yaml:"icon"`
	Active   *bool             `yaml:"active"`
	Visible  *bool             `yaml:"visible"`
	Grants   map[string]string `yaml:"grants"`
	Children []seedNode        `yaml:"children"`
}

// DefaultSeed returns the built-in menu set
func DefaultSeed() ([]Node, []Permission, error) {
	return ParseSeed(defaultsYAML)
}

// ParseSeed turns a YAML menu tree into nodes and grants. Ids are assigned
// depth first from 1; level and sort order follow tree position.
func ParseSeed(data []byte) ([]Node, []Permission, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse menu seed: %w", err)
	}

	b := &seedBuilder{codes: make(map[string]bool)}
	for i, n := range file.Menus {
		if err := b.add(n, nil, 1, i+1); err != nil {
			return nil, nil, err
		}
	}
	return b.nodes, b.perms, nil
}

type seedBuilder struct {
	nextID int64
	codes  map[string]bool
	nodes  []Node
	perms  []Permission
}

func (b *seedBuilder) add(sn seedNode, parentID *int64, level, sortOrder int) error {
	code := strings.TrimSpace(sn.Code)
	if code == "" || strings.TrimSpace(sn.Name) == "" {
		return fmt.Errorf("menu seed entry needs code and name (got %q)", sn.Code)
	}
	if b.codes[code] {
		return fmt.Errorf("menu seed repeats code %q", code)
	}
	b.codes[code] = true

	b.nextID++
	id := b.nextID
	n := Node{
		ID:        id,
		Code:      code,
		Name:      sn.Name,
		NameEn:    sn.NameEn,
		ParentID:  parentID,
		Level:     level,
		SortOrder: sortOrder,
		Icon:      sn.Icon,
		Active:    sn.Active == nil || *sn.Active,
		Visible:   sn.Visible == nil || *sn.Visible,
	}
	if sn.URL != "" {
		url := sn.URL
		n.URL = &url
	}
	b.nodes = append(b.nodes, n)

	roles := make([]string, 0, len(sn.Grants))
	for role := range sn.Grants {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		p, err := parseGrant(id, role, sn.Grants[role])
		if err != nil {
			return fmt.Errorf("menu %s: %w", code, err)
		}
		b.perms = append(b.perms, p)
	}

	for i, child := range sn.Children {
		if err := b.add(child, &id, level+1, i+1); err != nil {
			return err
		}
	}
	return nil
}

func parseGrant(menuID int64, role, flags string) (Permission, error) {
	p := Permission{MenuID: menuID, RoleName: security.NormalizeRole(role)}
	if p.RoleName == "" {
		return Permission{}, fmt.Errorf("grant with empty role")
	}
	for _, f := range strings.ToLower(flags) {
		switch f {
		case 'r':
			p.CanRead = true
		case 'w':
			p.CanWrite = true
		case 'd':
			p.CanDelete = true
		default:
			return Permission{}, fmt.Errorf("unknown grant flag %q for %s", f, p.RoleName)
		}
	}
	return p, nil
}
