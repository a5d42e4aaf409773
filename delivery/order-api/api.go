package orderapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/order-notifier/delivery/helper"
	ordersocket "github.com/desain-gratis/order-notifier/delivery/order-socket"
	types "github.com/desain-gratis/order-notifier/types/http"
	"github.com/desain-gratis/order-notifier/types/notification"
	"github.com/desain-gratis/order-notifier/usecase/ordernotify"
)

const maxBody = 1 << 20

// JoinTokenConfig enables the join token endpoint
type JoinTokenConfig struct {
	Signer ordersocket.TokenSigner
	KeyID  string
	TTL    time.Duration
}

// api stands in for the order service: it drives the notification flows from debug requests.
// Only reaches clients connected to the same process.
type api struct {
	usecase   ordernotify.Usecase
	joinToken *JoinTokenConfig
}

func New(usecase ordernotify.Usecase, joinToken *JoinTokenConfig) *api {
	return &api{usecase: usecase, joinToken: joinToken}
}

type PlaceResponse struct {
	Notification notification.Notification `json:"notification"`
	Sent         int                       `json:"sent"`
}

// Place simulates a placed order.
//
//	POST /debug/orders
func (a *api) Place(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var order notification.Order
	if errUC := decode(r, &order); errUC != nil {
		helper.SetError(w, *errUC, errUC.HTTPCode)
		return
	}
	if order.OrderID == "" || order.RestaurantID == "" {
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusBadRequest,
			Code:     "MISSING_ORDER_FIELDS",
			Message:  "orderId and restaurantID are required",
		}, http.StatusBadRequest)
		return
	}

	n, sent := a.usecase.OrderPlaced(r.Context(), order)

	helper.WriteJSON(w, http.StatusAccepted, types.CommonResponse{
		Success: PlaceResponse{Notification: n, Sent: sent},
	})
}

// Action simulates the kitchen acting on an order.
//
//	POST /debug/orders/:id/:action
func (a *api) Action(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var order notification.Order
	if errUC := decode(r, &order); errUC != nil {
		helper.SetError(w, *errUC, errUC.HTTPCode)
		return
	}
	order.OrderID = p.ByName("id")
	if order.UserID == "" {
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusBadRequest,
			Code:     "MISSING_ORDER_FIELDS",
			Message:  "userId is required",
		}, http.StatusBadRequest)
		return
	}

	n, sent, err := a.usecase.OrderActioned(r.Context(), order, ordernotify.Action(p.ByName("action")))
	if errors.Is(err, ordernotify.ErrUnknownAction) {
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusBadRequest,
			Code:     "UNKNOWN_ACTION",
			Message:  "action must be accept, reject or complete",
		}, http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Err(err).Msgf("order api: action failed")
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusInternalServerError,
			Code:     "ACTION_FAILED",
			Message:  err.Error(),
		}, http.StatusInternalServerError)
		return
	}

	helper.WriteJSON(w, http.StatusAccepted, types.CommonResponse{
		Success: PlaceResponse{Notification: n, Sent: sent},
	})
}

// JoinToken signs a socket join identity.
//
//	POST /debug/join-token {"userId": "...", "role": "admin|customer"}
func (a *api) JoinToken(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if a.joinToken == nil {
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusNotFound,
			Code:     "JOIN_TOKEN_DISABLED",
			Message:  "join tokens are not configured",
		}, http.StatusNotFound)
		return
	}

	var id ordersocket.Identity
	if errUC := decode(r, &id); errUC != nil {
		helper.SetError(w, *errUC, errUC.HTTPCode)
		return
	}

	token, err := ordersocket.IssueJoinToken(a.joinToken.Signer, a.joinToken.KeyID, id, a.joinToken.TTL)
	if err != nil {
		helper.SetError(w, types.Error{
			HTTPCode: http.StatusBadRequest,
			Code:     "JOIN_TOKEN_FAILED",
			Message:  err.Error(),
		}, http.StatusBadRequest)
		return
	}

	helper.WriteJSON(w, http.StatusOK, types.CommonResponse{
		Success: map[string]string{"token": token},
	})
}

func decode(r *http.Request, v any) *types.Error {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return &types.Error{HTTPCode: http.StatusBadRequest, Code: "READ_BODY_FAILED", Message: err.Error()}
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &types.Error{HTTPCode: http.StatusBadRequest, Code: "INVALID_BODY", Message: "invalid JSON body"}
	}
	return nil
}
