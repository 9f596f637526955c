package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/dabil/internal/model"
	"github.com/mmeshcher/dabil/internal/service"
)

type createRestaurantRequest struct {
	Name         string `json:"name"`
	Type         string `json:"restaurantType"`
	CuisineType  string `json:"cuisineType"`
	Address      string `json:"address"`
	City         string `json:"city"`
	ManagerEmail string `json:"managerEmail"`
	ManagerName  string `json:"managerName"`
	Password     string `json:"managerPassword"`
}

type createRestaurantResponse struct {
	Restaurant restaurantResponse `json:"restaurant"`
	Manager    userResponse       `json:"manager"`
	CheckInURL string             `json:"checkInUrl"`
}

type menuItemRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
}

// ListRestaurants возвращает активные рестораны.
func (h *Handler) ListRestaurants(w http.ResponseWriter, r *http.Request) {
	restaurants, err := h.service.ListRestaurants(r.Context())
	if err != nil {
		h.fail(w, err, "list restaurants error")
		return
	}

	resp := make([]restaurantResponse, 0, len(restaurants))
	for i := range restaurants {
		resp = append(resp, newRestaurantResponse(&restaurants[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetRestaurant возвращает ресторан с доступным меню.
func (h *Handler) GetRestaurant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	details, err := h.service.GetRestaurant(r.Context(), id)
	if err != nil {
		h.fail(w, err, "get restaurant error", zap.Int64("restaurantID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, newRestaurantDetailsResponse(details))
}

// CreateRestaurant подключает ресторан вместе с учётной записью его менеджера.
func (h *Handler) CreateRestaurant(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req createRestaurantRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rest, manager, err := h.service.CreateRestaurant(r.Context(), actor, service.NewRestaurant{
		Name:        req.Name,
		Type:        model.RestaurantType(req.Type),
		CuisineType: req.CuisineType,
		Address:     req.Address,
		City:        req.City,
		Owner: service.Credentials{
			Email:    req.ManagerEmail,
			Name:     req.ManagerName,
			Password: req.Password,
		},
	})
	if err != nil {
		h.fail(w, err, "create restaurant error", zap.Int64("userID", actor.UserID))
		return
	}

	h.writeJSON(w, http.StatusCreated, createRestaurantResponse{
		Restaurant: newRestaurantResponse(rest),
		Manager:    newUserResponse(manager),
		CheckInURL: h.service.CheckInURL(rest.ID),
	})
}

// AddMenuItem добавляет позицию в меню ресторана.
func (h *Handler) AddMenuItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req menuItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	item, err := h.service.AddMenuItem(r.Context(), actor, id, service.NewMenuItem{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
	})
	if err != nil {
		h.fail(w, err, "add menu item error", zap.Int64("restaurantID", id))
		return
	}

	h.writeJSON(w, http.StatusCreated, newMenuItemResponse(item))
}

// CreateStaff заводит учётную запись сотрудника ресторана.
func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.CreateStaff(r.Context(), actor, id, service.Credentials{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		h.fail(w, err, "create staff error", zap.Int64("restaurantID", id))
		return
	}

	h.writeJSON(w, http.StatusCreated, newUserResponse(u))
}

// RestaurantQR отдаёт PNG с QR-кодом ссылки регистрации визита.
func (h *Handler) RestaurantQR(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	png, err := h.service.RestaurantQR(r.Context(), id)
	if err != nil {
		h.fail(w, err, "render qr error", zap.Int64("restaurantID", id))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.logger.Debug("write qr", zap.Error(err))
	}
}

// RestaurantStats возвращает агрегаты ресторана.
func (h *Handler) RestaurantStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	stats, err := h.service.RestaurantStats(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err, "restaurant stats error", zap.Int64("restaurantID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, statsResponse{
		ServedOrders:   stats.ServedOrders,
		Revenue:        stats.Revenue,
		ActiveSessions: stats.ActiveSessions,
	})
}

// DeactivateRestaurant скрывает ресторан из каталога.
func (h *Handler) DeactivateRestaurant(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeactivateRestaurant(r.Context(), actor, id); err != nil {
		h.fail(w, err, "deactivate restaurant error", zap.Int64("restaurantID", id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListStaff возвращает персонал ресторана.
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	staff, err := h.service.ListStaff(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err, "list staff error", zap.Int64("restaurantID", id))
		return
	}

	resp := make([]userResponse, 0, len(staff))
	for i := range staff {
		resp = append(resp, newUserResponse(&staff[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// LoyaltyOverview возвращает сводку лояльности гостей ресторана.
func (h *Handler) LoyaltyOverview(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ov, err := h.service.LoyaltyOverview(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err, "loyalty overview error", zap.Int64("restaurantID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, newLoyaltyOverviewResponse(ov))
}
