package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradecore/internal/models"
)

type persistedState struct {
	State     models.PortfolioState `json:"state"`
	Positions []models.Position     `json:"positions"`
	SavedAt   time.Time             `json:"saved_at"`
}

// SaveState сохраняет снимок портфеля и позиций в JSON-файл.
func (t *Tracker) SaveState(path string) error {
	t.mu.Lock()
	snapshot := persistedState{
		State:   t.state,
		SavedAt: time.Now(),
	}
	for _, pos := range t.positions {
		snapshot.Positions = append(snapshot.Positions, *pos)
	}
	t.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("Не удалось сериализовать состояние: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("Не удалось создать каталог состояния: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("Не удалось записать состояние: %w", err)
	}
	t.logEntry().WithField("path", path).Info("Состояние портфеля сохранено.")
	return nil
}

// RestoreState восстанавливает снимок, сохранённый прошлым запуском.
func (t *Tracker) RestoreState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Не удалось прочитать состояние: %w", err)
	}
	var snapshot persistedState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("Не удалось разобрать состояние: %w", err)
	}

	t.mu.Lock()
	t.state = snapshot.State
	t.positions = map[PositionKey]*models.Position{}
	for i := range snapshot.Positions {
		pos := snapshot.Positions[i]
		t.positions[PositionKey{pos.StrategyID, pos.Symbol}] = &pos
	}
	t.mu.Unlock()

	t.logEntry().WithFields(map[string]interface{}{
		"path":      path,
		"positions": len(snapshot.Positions),
		"saved_at":  snapshot.SavedAt,
	}).Info("Состояние портфеля восстановлено.")
	return nil
}
