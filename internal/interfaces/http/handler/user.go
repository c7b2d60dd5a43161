package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/tradejournal/backend/internal/application/identity"
)

// UserHandler handles user management HTTP requests
type UserHandler struct {
	BaseHandler
	userService *identity.UserService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *identity.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// CreateUserRequest is the body of POST /users
type CreateUserRequest struct {
	UserName string `json:"user_name" binding:"required,max=100"`
}

// RenameUserRequest is the body of PUT /users/:id
type RenameUserRequest struct {
	UserName string `json:"user_name" binding:"required,max=100"`
}

// Create godoc
// @ID           createUser
// @Summary      Create a new user
// @Description  Create a user and record UserCreated in the outbox
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body CreateUserRequest true "User creation request"
// @Success      201 {object} dto.Response{data=identity.UserDTO}
// @Failure      400 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Router       /users [post]
func (h *UserHandler) Create(c *gin.Context) {
	var req CreateUserRequest
	if !h.bindJSON(c, &req) {
		return
	}

	user, err := h.userService.Create(c.Request.Context(), identity.CreateUserInput{UserName: req.UserName})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, user)
}

// GetByID godoc
// @ID           getUserById
// @Summary      Get a user by ID
// @Tags         users
// @Produce      json
// @Param        id path string true "User ID" format(uuid)
// @Success      200 {object} dto.Response{data=identity.UserDTO}
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /users/{id} [get]
func (h *UserHandler) GetByID(c *gin.Context) {
	id, ok := h.parseID(c, "user")
	if !ok {
		return
	}

	user, err := h.userService.GetByID(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, user)
}

// Rename godoc
// @ID           renameUser
// @Summary      Rename a user
// @Description  Change the user name and record UserUpdated. Renaming to the current name records nothing.
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        id path string true "User ID" format(uuid)
// @Param        request body RenameUserRequest true "New user name"
// @Success      200 {object} dto.Response{data=identity.UserDTO}
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Router       /users/{id} [put]
func (h *UserHandler) Rename(c *gin.Context) {
	id, ok := h.parseID(c, "user")
	if !ok {
		return
	}
	var req RenameUserRequest
	if !h.bindJSON(c, &req) {
		return
	}

	user, err := h.userService.Rename(c.Request.Context(), identity.RenameUserInput{ID: id, UserName: req.UserName})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, user)
}

// Delete godoc
// @ID           deleteUser
// @Summary      Delete a user
// @Description  Delete the user and record UserDeleted. The journal service removes the user's data when it consumes the fact.
// @Tags         users
// @Param        id path string true "User ID" format(uuid)
// @Success      204
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /users/{id} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := h.parseID(c, "user")
	if !ok {
		return
	}

	if err := h.userService.Delete(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}
