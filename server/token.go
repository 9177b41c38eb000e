package server

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// A TokenDecoder validates and decodes user tokens passed into the web API. If
// the given token is not valid, for whatever reason, the user "" with a role of
// RoleUnknown is returned. An error is returned only if there is some kind of error doing
// the lookup and the ultimate status of the token is unknown.
type TokenDecoder interface {
	TokenDecode(token string) (user string, role Role, err error)
}

// A Role is the access level given to a token. Roles are ordered; each one
// can do everything the roles below it can.
type Role int

const (
	RoleUnknown Role = iota
	RoleRead         // may list blobs
	RoleAdmin        // may also delete blobs
)

func atoRole(s string) Role {
	switch strings.ToLower(s) {
	case "read":
		return RoleRead
	case "admin":
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

// NewNobodyDecoder creates a TokenDecoder that for every possible token
// returns a user named "nobody" with the Admin role.
func NewNobodyDecoder() TokenDecoder {
	return nobodyDecoder{}
}

type nobodyDecoder struct{}

func (nobodyDecoder) TokenDecode(token string) (string, Role, error) {
	return "nobody", RoleAdmin, nil
}

// NewListDecoder returns a decoder backed by a fixed list of users read from
// r. Each line has the form
//
//     <user name>  <role>  <token>
//
// separated by spaces or tabs. The role is "Read" or "Admin" (case
// insensitive). Blank lines, lines beginning with a hash '#', and lines
// without exactly three fields are skipped. The empty token never matches.
func NewListDecoder(r io.Reader) (TokenDecoder, error) {
	ld := listDecoder(make(map[string]userEntry))
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		pieces := strings.Fields(scanner.Text())
		if len(pieces) != 3 || pieces[0][0] == '#' {
			continue
		}
		ld[pieces[2]] = userEntry{user: pieces[0], role: atoRole(pieces[1])}
	}
	return ld, scanner.Err()
}

// NewListDecoderFile reads the given file into a list decoder. The file
// should have the format NewListDecoder expects.
func NewListDecoderFile(fname string) (TokenDecoder, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewListDecoder(f)
}

type userEntry struct {
	user string
	role Role
}

// listDecoder maps tokens to users
type listDecoder map[string]userEntry

func (ld listDecoder) TokenDecode(token string) (string, Role, error) {
	if u, ok := ld[token]; ok && token != "" {
		return u.user, u.role, nil
	}
	return "", RoleUnknown, nil
}
