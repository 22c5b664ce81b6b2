package session

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CookieRecordSuffix is appended to the session record name to name the cookie record.
const CookieRecordSuffix = ".cookies"

// CookieJar is an http.CookieJar whose cookies for one URL outlive the
// process. Cookie based refresh keeps its credential in an HTTP-only cookie,
// so a restored session can only be renewed if that cookie survives too.
// Every change to the cookies sent to scope is written to repo.
type CookieJar struct {
	jar   *cookiejar.Jar
	repo  Repo
	name  string
	scope *url.URL

	mu   sync.Mutex
	last []Cookie
}

var _ http.CookieJar = (*CookieJar)(nil)

// NewCookieJar restores the cookies saved under name and scopes persistence
// to scope, normally the refresh endpoint. A load failure is logged and the
// jar starts empty.
func NewCookieJar(ctx context.Context, repo Repo, name string, scope *url.URL) (*CookieJar, error) {
	if repo == nil {
		return nil, errors.New("[NewCookieJar] repo is required")
	}
	if name == "" || scope == nil {
		return nil, errors.New("[NewCookieJar] record name and scope are required")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "[NewCookieJar] cookiejar.New")
	}
	j := &CookieJar{jar: jar, repo: repo, name: name, scope: scope}

	record, err := repo.Load(ctx, name)
	switch {
	case errors.Is(err, ErrRecordNotFound):
	case err != nil:
		log.Warn().Err(err).Str("record", name).Msg("could not load saved cookies")
	default:
		cookies := make([]*http.Cookie, 0, len(record.Cookies))
		for _, c := range record.Cookies {
			cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value})
		}
		// No Path attribute: the jar defaults it to the directory of scope.
		jar.SetCookies(scope, cookies)
		j.last = record.Cookies
	}
	return j, nil
}

func (j *CookieJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

func (j *CookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)
	if err := j.persist(context.Background()); err != nil {
		log.Err(err).Str("record", j.name).Msg("failed to persist cookies")
	}
}

func (j *CookieJar) persist(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	current := make([]Cookie, 0)
	for _, c := range j.jar.Cookies(j.scope) {
		current = append(current, Cookie{Name: c.Name, Value: c.Value})
	}
	if slices.Equal(current, j.last) {
		return nil
	}
	j.last = current

	if len(current) == 0 {
		return errors.Wrap(j.repo.Delete(ctx, j.name), "[CookieJar.persist] repo.Delete")
	}
	return errors.Wrap(j.repo.Save(ctx, j.name, &Record{Cookies: current}), "[CookieJar.persist] repo.Save")
}
