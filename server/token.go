package server

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// A Principal is the caller a token belongs to, together with what it may
// do. Permissions have the form "<action>:<scope>". The permission "*"
// allows everything and "<action>:*" allows an action on every scope.
type Principal struct {
	Subject     string
	Permissions []string
}

// HasPermission reports whether p may perform action on scope.
func (p *Principal) HasPermission(action, scope string) bool {
	if p == nil {
		return false
	}
	want := action + ":" + scope
	for _, perm := range p.Permissions {
		switch perm {
		case "*", action + ":*", want:
			return true
		}
	}
	return false
}

// A TokenDecoder validates and decodes user tokens passed into the web API.
// If the given token is not valid, for whatever reason, a nil principal is
// returned. An error is returned only if there is some kind of error doing
// the lookup and the ultimate status of the token is unknown.
type TokenDecoder interface {
	TokenDecode(token string) (*Principal, error)
}

// NewNobodyDecoder creates a TokenDecoder that for every possible token
// returns a user named "nobody" who may do anything. Only use it in
// development.
func NewNobodyDecoder() TokenDecoder {
	return new(nobodyDecoder)
}

type nobodyDecoder struct{}

func (_ nobodyDecoder) TokenDecode(token string) (*Principal, error) {
	return &Principal{Subject: "nobody", Permissions: []string{"*"}}, nil
}

// NewJWTDecoder returns a TokenDecoder accepting HS256 signed JSON web
// tokens issued with secret. The principal is taken from the "sub" claim and
// its permissions from the "permissions" claim. A token without a subject
// is not valid.
func NewJWTDecoder(secret []byte) TokenDecoder {
	return &jwtDecoder{secret: secret}
}

type jwtDecoder struct {
	secret []byte
}

// Claims are the claims read from a JSON web token.
type Claims struct {
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

func (jd *jwtDecoder) TokenDecode(token string) (*Principal, error) {
	if token == "" {
		return nil, nil
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return jd.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		// expired, malformed, or badly signed tokens are all just invalid
		return nil, nil
	}
	if claims.Subject == "" {
		return nil, nil
	}
	return &Principal{Subject: claims.Subject, Permissions: claims.Permissions}, nil
}

// SignToken issues a token for p which a JWT decoder using the same secret
// accepts. It is meant for tools and tests.
func SignToken(secret []byte, p Principal) (string, error) {
	claims := Claims{
		Permissions:      p.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{Subject: p.Subject},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// A ListDecoder is backed by a predefined list of users, which are read from r upon creation.
// The reader r should consist of a sequence of user entries, separated by newlines.
// Each entry has the form:
//
//	<user name>  <permissions>  <token>
//
// The fields are delineated by whitespace (spaces or tabs).
// This decoder does not permit spaces in the user name, the permissions, or
// the token. The permissions are separated by commas, e.g.
// "delete:GroupClaes.PCM/document,read:*". Empty lines and lines beginning
// with a hash '#' are skipped.
func NewListDecoder(r io.Reader) (TokenDecoder, error) {
	users, err := parseListFile(r)
	if err != nil {
		return nil, err
	}
	sort.Sort(byToken(users))
	return listDecoder{users}, nil
}

// NewListDecoderFile is a convenience function that reads the contents of
// the given file into a ListDecoder. The file should have the same format
// that NewListDecoder expects.
func NewListDecoderFile(fname string) (TokenDecoder, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewListDecoder(f)
}

// NewListDecoderString is a convenience function that passes the given string
// into a ListDecoder. The format of the string is the same as that expected
// by NewListDecoder.
func NewListDecoderString(data string) (TokenDecoder, error) {
	return NewListDecoder(strings.NewReader(data))
}

func parseListFile(r io.Reader) ([]userEntry, error) {
	var result []userEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		// split on whitespace
		pieces := strings.Fields(scanner.Text())
		// skip blank lines or lines beginning with a '#'
		if len(pieces) == 0 || pieces[0][0] == '#' {
			continue
		}
		if len(pieces) != 3 {
			// wrong number of columns
			continue
		}
		result = append(result, userEntry{
			token:       pieces[2],
			user:        pieces[0],
			permissions: strings.Split(pieces[1], ","),
		})
	}
	return result, scanner.Err()
}

type listDecoder struct {
	data []userEntry
}

type byToken []userEntry

func (ue byToken) Len() int           { return len(ue) }
func (ue byToken) Less(i, j int) bool { return ue[i].token < ue[j].token }
func (ue byToken) Swap(i, j int)      { ue[i], ue[j] = ue[j], ue[i] }

type userEntry struct {
	token       string
	user        string
	permissions []string
}

func (ld listDecoder) TokenDecode(token string) (*Principal, error) {
	users := ld.data
	i := sort.Search(len(users), func(i int) bool { return users[i].token >= token })
	if token == "" || i >= len(users) || users[i].token != token {
		return nil, nil
	}
	return &Principal{Subject: users[i].user, Permissions: users[i].permissions}, nil
}
