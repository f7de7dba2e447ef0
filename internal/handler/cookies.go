package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CookieSettings controls how both credentials travel as cookies.
type CookieSettings struct {
	AccessName  string
	RefreshName string
	Domain      string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	Production  bool
}

func (s CookieSettings) sameSite() http.SameSite {
	if s.Production {
		return http.SameSiteStrictMode
	}
	return http.SameSiteLaxMode
}

func (s CookieSettings) set(c *gin.Context, name, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.Production,
		SameSite: s.sameSite(),
	})
}

// setSession writes the access and refresh cookies.
func (s CookieSettings) setSession(c *gin.Context, accessToken, refreshToken string) {
	s.set(c, s.AccessName, accessToken, int(s.AccessTTL.Seconds()))
	s.set(c, s.RefreshName, refreshToken, int(s.RefreshTTL.Seconds()))
}

// clearSession expires both cookies.
func (s CookieSettings) clearSession(c *gin.Context) {
	s.set(c, s.AccessName, "", -1)
	s.set(c, s.RefreshName, "", -1)
}

func (s CookieSettings) refreshToken(c *gin.Context) string {
	value, err := c.Cookie(s.RefreshName)
	if err != nil {
		return ""
	}
	return value
}
