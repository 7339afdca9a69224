package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"clipnote/internal/store"
)

// passkeyUser adapts a clipnote user to webauthn.User. The user handle is
// the auth platform's user id.
type passkeyUser struct {
	id          string
	displayName string
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte                         { return []byte(u.id) }
func (u *passkeyUser) WebAuthnName() string                       { return u.id }
func (u *passkeyUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

type ceremonyResponse struct {
	Success    bool        `json:"success"`
	CeremonyID string      `json:"ceremonyId"`
	Options    interface{} `json:"options"`
}

// passkeyFinishRequest carries the browser's PublicKeyCredential JSON
// unchanged in Credential.
type passkeyFinishRequest struct {
	CeremonyID string          `json:"ceremonyId"`
	Name       string          `json:"name,omitempty"`
	Credential json.RawMessage `json:"credential"`
}

var errPasskeysDisabled = fiber.NewError(fiber.StatusServiceUnavailable, "Passkeys are not configured")

func (s *Server) passkeysEnabled() error {
	if s.deps.WebAuthn == nil {
		return errPasskeysDisabled
	}
	return nil
}

// loadPasskeyUser builds the webauthn user with every stored credential.
func (s *Server) loadPasskeyUser(c *fiber.Ctx, uid string) (*passkeyUser, []store.Passkey, error) {
	rows, err := s.deps.Store.ListPasskeys(c.UserContext(), uid)
	if err != nil {
		return nil, nil, err
	}
	u := &passkeyUser{id: uid, displayName: uid}
	for _, row := range rows {
		var cred webauthn.Credential
		if err := json.Unmarshal(row.Credential, &cred); err != nil {
			requestLogger(c).Warn("skip unreadable passkey", zap.String("passkey_id", row.ID.String()), zap.Error(err))
			continue
		}
		u.credentials = append(u.credentials, cred)
	}
	if st, err := s.deps.Store.GetSettings(c.UserContext(), uid); err == nil && st.DisplayName != "" {
		u.displayName = st.DisplayName
	}
	return u, rows, nil
}

func (s *Server) passkeyRegisterBeginHandler(c *fiber.Ctx) error {
	if err := s.passkeysEnabled(); err != nil {
		return err
	}
	user, _, err := s.loadPasskeyUser(c, userID(c))
	if err != nil {
		return writeStoreError(c, err, "passkey")
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(user.credentials))
	for _, cred := range user.credentials {
		exclusions = append(exclusions, cred.Descriptor())
	}
	options, session, err := s.deps.WebAuthn.BeginRegistration(user,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithExclusions(exclusions),
	)
	if err != nil {
		requestLogger(c).Error("begin passkey registration", zap.Error(err))
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Could not start passkey registration")
	}

	ceremonyID := uuid.NewString()
	if err := s.ceremonies.Save(c.UserContext(), ceremonyID, session); err != nil {
		requestLogger(c).Error("save passkey ceremony", zap.Error(err))
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Could not start passkey registration")
	}
	return c.JSON(ceremonyResponse{Success: true, CeremonyID: ceremonyID, Options: options})
}

func (s *Server) passkeyRegisterFinishHandler(c *fiber.Ctx) error {
	if err := s.passkeysEnabled(); err != nil {
		return err
	}
	var req passkeyFinishRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidJSON(c)
	}
	if req.CeremonyID == "" || len(req.Credential) == 0 {
		return badRequest(c, "ceremonyId and credential are required")
	}

	session, err := s.ceremonies.Take(c.UserContext(), req.CeremonyID)
	if err != nil {
		return badRequest(c, errCeremonyNotFound.Error())
	}
	uid := userID(c)
	if string(session.UserID) != uid {
		return badRequest(c, "ceremony belongs to another user")
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		return badRequest(c, "invalid credential")
	}
	user, _, err := s.loadPasskeyUser(c, uid)
	if err != nil {
		return writeStoreError(c, err, "passkey")
	}
	cred, err := s.deps.WebAuthn.CreateCredential(user, *session, parsed)
	if err != nil {
		requestLogger(c).Info("passkey registration rejected", zap.Error(err))
		return badRequest(c, "passkey verification failed")
	}

	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Passkey"
	}
	pk, err := s.deps.Store.CreatePasskey(c.UserContext(), uid, name, cred.ID, raw)
	if err != nil {
		return writeStoreError(c, err, "passkey")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "passkey": passkeyResponse(pk)})
}

func (s *Server) listPasskeysHandler(c *fiber.Ctx) error {
	rows, err := s.deps.Store.ListPasskeys(c.UserContext(), userID(c))
	if err != nil {
		return writeStoreError(c, err, "passkey")
	}
	out := make([]PasskeyResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, passkeyResponse(row))
	}
	return c.JSON(fiber.Map{"success": true, "passkeys": out})
}

func (s *Server) deletePasskeyHandler(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.deps.Store.DeletePasskey(c.UserContext(), userID(c), id); err != nil {
		return writeStoreError(c, err, "passkey")
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) passkeyLoginBeginHandler(c *fiber.Ctx) error {
	if err := s.passkeysEnabled(); err != nil {
		return err
	}
	options, session, err := s.deps.WebAuthn.BeginDiscoverableLogin()
	if err != nil {
		requestLogger(c).Error("begin passkey login", zap.Error(err))
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Could not start passkey login")
	}
	ceremonyID := uuid.NewString()
	if err := s.ceremonies.Save(c.UserContext(), ceremonyID, session); err != nil {
		requestLogger(c).Error("save passkey ceremony", zap.Error(err))
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Could not start passkey login")
	}
	return c.JSON(ceremonyResponse{Success: true, CeremonyID: ceremonyID, Options: options})
}

func (s *Server) passkeyLoginFinishHandler(c *fiber.Ctx) error {
	if err := s.passkeysEnabled(); err != nil {
		return err
	}
	var req passkeyFinishRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidJSON(c)
	}
	if req.CeremonyID == "" || len(req.Credential) == 0 {
		return badRequest(c, "ceremonyId and credential are required")
	}
	session, err := s.ceremonies.Take(c.UserContext(), req.CeremonyID)
	if err != nil {
		return unauthenticated(c, errCeremonyNotFound.Error())
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		return badRequest(c, "invalid credential")
	}

	var matched store.Passkey
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		pk, err := s.deps.Store.GetPasskeyByCredentialID(c.UserContext(), rawID)
		if err != nil {
			return nil, err
		}
		if string(userHandle) != pk.UserID {
			return nil, errors.New("user handle does not match credential owner")
		}
		matched = pk
		user, _, err := s.loadPasskeyUser(c, pk.UserID)
		return user, err
	}

	cred, err := s.deps.WebAuthn.ValidateDiscoverableLogin(handler, *session, parsed)
	if err != nil {
		requestLogger(c).Info("passkey login rejected", zap.Error(err))
		return unauthenticated(c, "Passkey verification failed")
	}

	if raw, err := json.Marshal(cred); err == nil {
		if err := s.deps.Store.TouchPasskey(c.UserContext(), matched.ID, raw); err != nil {
			requestLogger(c).Warn("update passkey after login", zap.Error(err))
		}
	}
	if err := issueSessionCookie(c, s.cfg, matched.UserID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "userId": matched.UserID})
}

func (s *Server) logoutHandler(c *fiber.Ctx) error {
	clearSessionCookie(c, s.cfg)
	return c.JSON(fiber.Map{"success": true})
}
