package http

import (
	"net/http"
	"strings"

	"github.com/toolchest-labs/toolchest/internal/domain/category"
)

// handleListCategories returns the category hierarchy. The default
// shape is the nested tree; ?flat=true returns the flat list instead.
func (h *apiHandler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("flat") == "true" {
		categories, err := h.registry.ListCategories(r.Context())
		if err != nil {
			h.respondDomainError(w, r, err)
			return
		}
		if categories == nil {
			categories = []*category.Category{}
		}
		h.respondJSON(w, http.StatusOK, categories)
		return
	}

	tree, err := h.registry.CategoryTree(r.Context())
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if tree == nil {
		tree = []*category.Node{}
	}
	h.respondJSON(w, http.StatusOK, tree)
}

// handleCreateCategory creates a category, optionally under a parent.
func (h *apiHandler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var c category.Category
	if err := h.readJSON(w, r, &c); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(c.Name) == "" {
		h.respondError(w, http.StatusBadRequest, "category name is required")
		return
	}

	if err := h.registry.CreateCategory(r.Context(), &c); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, &c)
}

// handleGetCategory returns a single category by ID.
func (h *apiHandler) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := h.registry.GetCategory(r.Context(), h.pathParam(r, "id"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, c)
}

// handleUpdateCategory applies a partial update. Pointer fields in the
// body distinguish "leave alone" from "set empty", so reparenting to
// the root is "parentId": "".
func (h *apiHandler) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var update category.Update
	if err := h.readJSON(w, r, &update); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	updated, err := h.registry.UpdateCategory(r.Context(), h.pathParam(r, "id"), update)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

// handleDeleteCategory removes an empty, childless category.
func (h *apiHandler) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteCategory(r.Context(), h.pathParam(r, "id")); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
