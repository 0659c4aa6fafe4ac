package web

import (
	"errors"
	"net/http"
	"path/filepath"

	"VirtualDoctor/internal/chat"
	"VirtualDoctor/internal/completion"
	"VirtualDoctor/internal/nutrition"
	"VirtualDoctor/internal/report"
	"VirtualDoctor/internal/session"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	page := sess.Page()
	s.render(w, http.StatusOK, page, s.pageFor(sess, page))
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	page, err := session.ParsePage(r.PostFormValue("page"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := sess.Navigate(page); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.redirectHome(w, r)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.Navigate(session.PageDoctorChat); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	turn, err := s.chat.Send(r.Context(), sess, r.PostFormValue("prompt"))
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			s.redirectHome(w, r)
			return
		}
		s.logger.Error("chat turn failed", "session_id", sess.ID, "error", err)
		http.Error(w, "chat unavailable", http.StatusInternalServerError)
		return
	}

	s.logger.Info("chat turn",
		"session_id", sess.ID,
		"outcome", turn.Result.Reason.String(),
		"cached", turn.Result.Cached,
	)
	s.redirectHome(w, r)
}

func (s *Server) handleNutrition(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.Navigate(session.PageNutrition); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := s.pageFor(sess, session.PageNutrition)
	data.Form = nutritionForm{
		Age:      r.PostFormValue("age"),
		Weight:   r.PostFormValue("weight"),
		Height:   r.PostFormValue("height"),
		Goal:     r.PostFormValue("goal"),
		Duration: r.PostFormValue("duration"),
	}

	req, fields := parseNutritionForm(data.Form)
	if len(fields) > 0 {
		data.FieldErrors = fields
		s.render(w, http.StatusBadRequest, session.PageNutrition, data)
		return
	}

	bmi := req.BMI()
	data.BMI = formatBMI(bmi)
	data.BMICategory = nutrition.Category(bmi)

	res := s.planner.BuildPlan(r.Context(), req)
	if res.OK() {
		sess.SetNutritionPlan(res.Text)
		data.Plan = res.Text
	} else {
		data.Error = completion.Fallback
	}

	s.logger.Info("nutrition plan",
		"session_id", sess.ID,
		"bmi", data.BMI,
		"goal", string(req.Goal),
		"duration", req.Duration,
		"outcome", res.Reason.String(),
	)
	s.render(w, http.StatusOK, session.PageNutrition, data)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	plan := sess.NutritionPlan()
	if plan == "" {
		http.Error(w, "no nutrition plan to export", http.StatusNotFound)
		return
	}

	if s.reportDir != "" {
		dest := filepath.Join(s.reportDir, sess.ID+"_"+report.DefaultFilename)
		if err := s.exporter.Export(plan, dest); err != nil {
			s.logger.Error("failed to export report", "session_id", sess.ID, "destination", dest, "error", err)
			http.Error(w, "failed to export report", http.StatusInternalServerError)
			return
		}
		s.logger.Info("report exported", "session_id", sess.ID, "destination", dest)
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.DefaultFilename+`"`)
	if err := s.exporter.Write(w, plan); err != nil {
		if errors.Is(err, report.ErrRender) {
			s.logger.Error("failed to render report", "session_id", sess.ID, "error", err)
			w.Header().Del("Content-Disposition")
			http.Error(w, "failed to export report", http.StatusInternalServerError)
			return
		}
		s.logger.Debug("failed to send report", "session_id", sess.ID, "error", err)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.existing(r); ok {
		sess.Lock()
		s.sessions.End(sess.ID)
		sess.Unlock()
	}
	http.SetCookie(w, s.cookie("", -1))
	s.redirectHome(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
