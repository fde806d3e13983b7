package app

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Credentials

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if !bind(w, r, &body) {
		return
	}
	result, err := s.service.Register(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response := map[string]any{
		"message": "Register success",
		"user":    result.User,
	}
	if result.DevVerificationToken != "" {
		response["devVerificationToken"] = result.DevVerificationToken
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body LoginInput
	if !bind(w, r, &body) {
		return
	}
	result, err := s.service.Login(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Login success",
		"token":        result.Session.Token,
		"refreshToken": result.Session.RefreshToken,
		"expiresAt":    result.Session.ExpiresAt.Unix(),
		"user": map[string]any{
			"id":       result.User.ID,
			"username": result.User.Username,
			"email":    result.User.Email,
			"avatar":   result.User.Avatar,
		},
	})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !bind(w, r, &body) {
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

// handleLogout revokes whatever credentials the request carries. It succeeds
// even when the access token is already invalid.
func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !bind(w, r, &body) {
		return
	}
	var session Session
	if token := bearerToken(r); token != "" {
		if current, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = current
		}
	}
	s.service.Logout(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (s *HTTPServer) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !bind(w, r, &body) {
		return
	}
	token, err := s.service.ForgotPassword(r.Context(), body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response := map[string]any{"message": "Password reset email sent"}
	if token != "" {
		response["devResetToken"] = token
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body ResetPasswordInput
	if !bind(w, r, &body) {
		return
	}
	if err := s.service.ResetPassword(r.Context(), body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !bind(w, r, &body) {
		return
	}
	if err := s.service.VerifyEmail(r.Context(), body.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

// Users

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.Me(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body UpdateProfileInput
	if !bind(w, r, &body) {
		return
	}
	user, err := s.service.UpdateProfile(r.Context(), sessionFrom(r.Context()).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Profile updated", "user": user})
}

func (s *HTTPServer) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body ChangePasswordInput
	if !bind(w, r, &body) {
		return
	}
	if err := s.service.ChangePassword(r.Context(), sessionFrom(r.Context()).UserID, body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

func (s *HTTPServer) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBody)
	file, _, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "avatar file is required", nil)
		return
	}
	defer file.Close()

	user, err := s.service.UploadAvatar(r.Context(), sessionFrom(r.Context()).UserID, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Avatar updated", "user": user})
}

func (s *HTTPServer) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	token, err := s.service.ResendVerification(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	response := map[string]any{"message": "Verification email sent"}
	if token != "" {
		response["devVerificationToken"] = token
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *HTTPServer) handleAvailableUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.AvailableUsers(r.Context(), chi.URLParam(r, "boardID"), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// Boards

func (s *HTTPServer) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var body BoardInput
	if !bind(w, r, &body) {
		return
	}
	board, err := s.service.CreateBoard(r.Context(), sessionFrom(r.Context()).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Board created", "board": board})
}

func (s *HTTPServer) handleListBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.service.ListBoards(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"boards": boards})
}

func (s *HTTPServer) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	board, err := s.service.GetBoard(r.Context(), chi.URLParam(r, "boardID"), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"board": board})
}

func (s *HTTPServer) handleUpdateBoard(w http.ResponseWriter, r *http.Request) {
	var body BoardInput
	if !bind(w, r, &body) {
		return
	}
	board, err := s.service.UpdateBoard(r.Context(), chi.URLParam(r, "boardID"), sessionFrom(r.Context()).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Board updated", "board": board})
}

func (s *HTTPServer) handleDeleteBoard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBoard(r.Context(), chi.URLParam(r, "boardID"), sessionFrom(r.Context()).UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Board deleted"})
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var body AddMemberInput
	if !bind(w, r, &body) {
		return
	}
	board, err := s.service.AddMember(r.Context(), chi.URLParam(r, "boardID"), sessionFrom(r.Context()).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Member added", "board": board})
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	err := s.service.RemoveMember(r.Context(), chi.URLParam(r, "boardID"), sessionFrom(r.Context()).UserID, chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Member removed"})
}

func (s *HTTPServer) handleLeaveBoard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.LeaveBoard(r.Context(), chi.URLParam(r, "boardID"), sessionFrom(r.Context()).UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Left board"})
}

func (s *HTTPServer) handleListActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := s.service.ListActivities(r.Context(), chi.URLParam(r, "boardID"), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": activities})
}

func (s *HTTPServer) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var body InviteInput
	if !bind(w, r, &body) {
		return
	}
	invite, err := s.service.CreateInvite(r.Context(), chi.URLParam(r, "boardID"), sessionFrom(r.Context()).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Invite sent", "invite": invite})
}

func (s *HTTPServer) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !bind(w, r, &body) {
		return
	}
	board, err := s.service.AcceptInvite(r.Context(), sessionFrom(r.Context()).UserID, body.Token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Invite accepted", "board": board})
}

func (s *HTTPServer) handleListColumns(w http.ResponseWriter, r *http.Request) {
	columns, err := s.service.ListColumns(r.Context(), chi.URLParam(r, "boardID"), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": columns})
}

func (s *HTTPServer) handleBoardCards(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.BoardCards(r.Context(), chi.URLParam(r, "boardID"), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleExportBoard(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportBoard(r.Context(), chi.URLParam(r, "boardID"), sessionFrom(r.Context()).UserID, r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// Columns

func (s *HTTPServer) handleCreateColumn(w http.ResponseWriter, r *http.Request) {
	var body CreateColumnInput
	if !bind(w, r, &body) {
		return
	}
	column, err := s.service.CreateColumn(r.Context(), sessionFrom(r.Context()).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Column created", "column": column})
}

func (s *HTTPServer) handleUpdateColumn(w http.ResponseWriter, r *http.Request) {
	var body UpdateColumnInput
	if !bind(w, r, &body) {
		return
	}
	column, err := s.service.UpdateColumn(r.Context(), chi.URLParam(r, "columnID"), sessionFrom(r.Context()).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Column updated", "column": column})
}

func (s *HTTPServer) handleDeleteColumn(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteColumn(r.Context(), chi.URLParam(r, "columnID"), sessionFrom(r.Context()).UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Column deleted"})
}

func (s *HTTPServer) handleReorderColumns(w http.ResponseWriter, r *http.Request) {
	var body ReorderColumnsInput
	if !bind(w, r, &body) {
		return
	}
	if err := s.service.ReorderColumns(r.Context(), sessionFrom(r.Context()).UserID, body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Columns reordered"})
}

// Cards

func (s *HTTPServer) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var body CreateCardInput
	if !bind(w, r, &body) {
		return
	}
	card, err := s.service.CreateCard(r.Context(), sessionFrom(r.Context()).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Card created", "card": card})
}

func (s *HTTPServer) handleListCardsByColumn(w http.ResponseWriter, r *http.Request) {
	cards, err := s.service.ListCardsByColumn(r.Context(), chi.URLParam(r, "columnID"), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards})
}

func (s *HTTPServer) handleGetCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.service.GetCard(r.Context(), chi.URLParam(r, "cardID"), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": card})
}

func (s *HTTPServer) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	var body UpdateCardInput
	if !bind(w, r, &body) {
		return
	}
	card, err := s.service.UpdateCard(r.Context(), chi.URLParam(r, "cardID"), sessionFrom(r.Context()).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Card updated", "card": card})
}

func (s *HTTPServer) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteCard(r.Context(), chi.URLParam(r, "cardID"), sessionFrom(r.Context()).UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Card deleted"})
}

func (s *HTTPServer) handleMoveCard(w http.ResponseWriter, r *http.Request) {
	var body MoveCardInput
	if !bind(w, r, &body) {
		return
	}
	moved, err := s.service.MoveCard(r.Context(), chi.URLParam(r, "cardID"), sessionFrom(r.Context()).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Card moved",
		"card":         moved.Card,
		"fromColumnId": moved.FromColumnID,
		"toColumnId":   moved.ToColumnID,
		"compacted":    moved.Compacted,
	})
}

func (s *HTTPServer) handleReorderCards(w http.ResponseWriter, r *http.Request) {
	var body ReorderCardsInput
	if !bind(w, r, &body) {
		return
	}
	if err := s.service.ReorderCards(r.Context(), sessionFrom(r.Context()).UserID, body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Cards reordered"})
}

func (s *HTTPServer) handleAddCardMember(w http.ResponseWriter, r *http.Request) {
	var body AddMemberInput
	if !bind(w, r, &body) {
		return
	}
	card, err := s.service.AddCardMember(r.Context(), chi.URLParam(r, "cardID"), sessionFrom(r.Context()).UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Member added", "card": card})
}

func (s *HTTPServer) handleRemoveCardMember(w http.ResponseWriter, r *http.Request) {
	card, err := s.service.RemoveCardMember(r.Context(), chi.URLParam(r, "cardID"), sessionFrom(r.Context()).UserID, chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Member removed", "card": card})
}

// Notifications

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListNotifications(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.MarkNotificationRead(r.Context(), chi.URLParam(r, "notificationID"), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Marked as read", "notification": item})
}

func (s *HTTPServer) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.MarkAllNotificationsRead(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "All notifications marked as read", "updated": n})
}

func (s *HTTPServer) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteNotification(r.Context(), chi.URLParam(r, "notificationID"), sessionFrom(r.Context()).UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Notification deleted"})
}

// Stats and search

func (s *HTTPServer) handleBoardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.BoardStats(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleActivityStats(w http.ResponseWriter, r *http.Request) {
	days, err := s.service.ActivityStats(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activityByDay": days})
}

func (s *HTTPServer) handleCardsWithDeadlines(w http.ResponseWriter, r *http.Request) {
	cards, err := s.service.CardsWithDeadlines(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	response, err := s.service.SearchCards(r.Context(), sessionFrom(r.Context()).UserID, q.Get("q"), q.Get("boardId"), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}
