package api

import (
	"context"

	"github.com/EchoWang-1/Flight-Servers/internal/dispatch"
	"github.com/EchoWang-1/Flight-Servers/internal/service/users"
)

type loginResult struct {
	Username string `json:"username"`
	RealName string `json:"realname"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	IDCard   string `json:"ID_card_number"`
}

type registerResult struct {
	Username string `json:"username"`
	Phone    string `json:"phone"`
}

type userInfo struct {
	Username string `json:"username"`
	RealName string `json:"realname"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
}

type existsResult struct {
	Exists bool `json:"exists"`
}

func (h *Handler) login(ctx context.Context, req dispatch.Request) (any, error) {
	user, err := h.users.Login(ctx, users.LoginInput{
		Phone:    req.Data.String("phone"),
		Password: req.Data.String("password"),
	})
	if err != nil {
		return nil, h.fail(req.Type, err)
	}
	return loginResult{
		Username: user.Username,
		RealName: user.RealName,
		Phone:    user.Phone,
		Email:    user.Email,
		IDCard:   user.IDCard,
	}, nil
}

func (h *Handler) register(ctx context.Context, req dispatch.Request) (any, error) {
	user, err := h.users.Register(ctx, users.RegisterInput{
		Username: req.Data.String("nickname"),
		Password: req.Data.String("password"),
		Phone:    req.Data.String("phone"),
		IDCard:   req.Data.String("id_card"),
	})
	if err != nil {
		return nil, h.fail(req.Type, err)
	}
	return registerResult{Username: user.Username, Phone: user.Phone}, nil
}

func (h *Handler) checkPhone(ctx context.Context, req dispatch.Request) (any, error) {
	exists, err := h.users.CheckPhone(ctx, req.Data.String("phone"))
	if err != nil {
		return nil, h.fail(req.Type, err)
	}
	return existsResult{Exists: exists}, nil
}

func (h *Handler) checkIDCard(ctx context.Context, req dispatch.Request) (any, error) {
	exists, err := h.users.CheckIDCard(ctx, req.Data.String("idCard"))
	if err != nil {
		return nil, h.fail(req.Type, err)
	}
	return existsResult{Exists: exists}, nil
}

func (h *Handler) getUserInfo(ctx context.Context, req dispatch.Request) (any, error) {
	user, err := h.users.GetInfo(ctx, req.Data.String("user_id"))
	if err != nil {
		return nil, h.fail(req.Type, err)
	}
	return userInfo{
		Username: user.Username,
		RealName: user.RealName,
		Phone:    user.Phone,
		Email:    user.Email,
	}, nil
}

func (h *Handler) changePassword(ctx context.Context, req dispatch.Request) (any, error) {
	err := h.users.ChangePassword(ctx, users.ChangePasswordInput{
		Username:    req.Data.String("user_id"),
		OldPassword: req.Data.String("old_pwd"),
		NewPassword: req.Data.String("new_pwd"),
	})
	if err != nil {
		return nil, h.fail(req.Type, err)
	}
	return dispatch.Completed{Message: MessagePasswordChanged}, nil
}
