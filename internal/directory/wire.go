package directory

import "github.com/roach88/reconcilor/internal/account"

// JSON bodies of the provider API.

type sessionsResponse struct {
	Sessions []account.RemoteSession `json:"sessions"`
}

type createRequest struct {
	ID account.ID `json:"id"`
}

type authTokenResponse struct {
	Token string `json:"token"`
}

type removeRequest struct {
	ID        account.ID   `json:"id"`
	Remaining []account.ID `json:"remaining"`
}

type mintRequest struct {
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type mintResponse struct {
	AccessToken string `json:"access_token"`
}

type userInfoResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}
