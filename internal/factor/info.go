// Package factor implements the multi-factor key-wrap protocol.
//
// A factor info document holds one or more groups. Each group wraps one key
// part once per factor (password, key file, null or hardware authenticator),
// so any single factor of a group recovers the part. The key derived from all
// group parts serves as the raw key file of a database.
//
//	<FactorInfo>
//	  <Version>1</Version>
//	  <Group>
//	    <ValidationType>HMAC-SHA512</ValidationType>
//	    <ValidationIn>base64</ValidationIn>
//	    <ValidationOut>base64</ValidationOut>
//	    <Challenge>base64</Challenge>
//	    <Factor>
//	      <Name>...</Name>
//	      <TypeUUID>...</TypeUUID>
//	      <KeySalt>base64</KeySalt>
//	      <WrappingType>AES-256-CBC</WrappingType>
//	      <WrappedKey>base64</WrappedKey>
//	      <CredentialID>base64</CredentialID>
//	    </Factor>
//	  </Group>
//	</FactorInfo>
package factor

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"kdbx-ng/internal/errors"
	"kdbx-ng/internal/log"
)

// Version is the factor info format version.
const Version = "1"

// Info is a parsed factor info document.
type Info struct {
	Groups []*Group
}

// AddGroup appends g.
func (info *Info) AddGroup(g *Group) {
	info.Groups = append(info.Groups, g)
}

// DeriveKey unwraps every group and returns SHA-256 over the key parts in
// order. The result is a 32-byte raw key file.
func (info *Info) DeriveKey(ctx context.Context, user UserInfo) ([]byte, error) {
	if len(info.Groups) == 0 {
		return nil, errors.Formatf("factor info", "no groups")
	}
	h := sha256.New()
	for i, g := range info.Groups {
		part, err := g.UnwrapKeyPart(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
		h.Write(part)
	}
	log.Debug("derived factor key", log.Int("groups", len(info.Groups)))
	return h.Sum(nil), nil
}

// Parse reads a factor info document.
func Parse(data []byte) (*Info, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, errors.NewFormatError("factor info", err)
	}
	root := doc.SelectElement("FactorInfo")
	if root == nil {
		return nil, errors.Formatf("factor info", "missing FactorInfo element")
	}
	if v := childText(root, "Version"); v != Version {
		return nil, errors.NewUnsupportedError("factor info version", v)
	}

	info := &Info{}
	for i, ge := range root.SelectElements("Group") {
		g, err := parseGroup(ge)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
		info.Groups = append(info.Groups, g)
	}
	return info, nil
}

func parseGroup(el *etree.Element) (*Group, error) {
	g := &Group{ValidationType: childText(el, "ValidationType")}
	if g.ValidationType == "" {
		g.ValidationType = ValidationHMACSHA512
	}
	if g.ValidationType != ValidationHMACSHA512 {
		return nil, errors.NewUnsupportedError("validation type", g.ValidationType)
	}

	var err error
	if g.ValidationIn, err = childBytes(el, "ValidationIn"); err != nil {
		return nil, err
	}
	if g.ValidationOut, err = childBytes(el, "ValidationOut"); err != nil {
		return nil, err
	}
	if g.Challenge, err = childBytes(el, "Challenge"); err != nil {
		return nil, err
	}

	for _, fe := range el.SelectElements("Factor") {
		f := &Factor{
			Name:         childText(fe, "Name"),
			WrappingType: childText(fe, "WrappingType"),
			group:        g,
		}
		if f.Type, err = uuid.Parse(childText(fe, "TypeUUID")); err != nil {
			return nil, errors.NewFormatError("TypeUUID", err)
		}
		if f.KeySalt, err = childBytes(fe, "KeySalt"); err != nil {
			return nil, err
		}
		if f.WrappedKey, err = childBytes(fe, "WrappedKey"); err != nil {
			return nil, err
		}
		if f.CredentialID, err = childBytes(fe, "CredentialID"); err != nil {
			return nil, err
		}
		g.Factors = append(g.Factors, f)
	}
	return g, nil
}

func childText(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

func childBytes(el *etree.Element, tag string) ([]byte, error) {
	s := childText(el, tag)
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.NewFormatError(tag, err)
	}
	return b, nil
}

// Marshal encodes the document. Groups without validation values get them
// first, from their known key part or by unwrapping with user.
func (info *Info) Marshal(ctx context.Context, user UserInfo) ([]byte, error) {
	for i, g := range info.Groups {
		if err := g.ensureValidation(ctx, user); err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement("FactorInfo")
	root.CreateElement("Version").SetText(Version)
	for _, g := range info.Groups {
		ge := root.CreateElement("Group")
		ge.CreateElement("ValidationType").SetText(g.ValidationType)
		addBytes(ge, "ValidationIn", g.ValidationIn)
		addBytes(ge, "ValidationOut", g.ValidationOut)
		addBytes(ge, "Challenge", g.Challenge)
		for _, f := range g.Factors {
			fe := ge.CreateElement("Factor")
			fe.CreateElement("Name").SetText(f.Name)
			fe.CreateElement("TypeUUID").SetText(f.Type.String())
			addBytes(fe, "KeySalt", f.KeySalt)
			fe.CreateElement("WrappingType").SetText(f.WrappingType)
			addBytes(fe, "WrappedKey", f.WrappedKey)
			addBytes(fe, "CredentialID", f.CredentialID)
		}
	}
	doc.IndentTabs()

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("encode factor info: %w", err)
	}
	return out, nil
}

func addBytes(el *etree.Element, tag string, b []byte) {
	if len(b) == 0 {
		return
	}
	el.CreateElement(tag).SetText(base64.StdEncoding.EncodeToString(b))
}
