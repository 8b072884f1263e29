package agent

import (
	"strings"
	"time"
)

// datePlaceholder is replaced with the current date in prompt templates.
const datePlaceholder = "{date}"

// defaultSystemPrompt is the assistant persona. The date placeholder lets the
// model resolve relative periods ("за последний месяц") correctly.
const defaultSystemPrompt = `Ты — ассистент-аналитик кондитерской компании. Ты отвечаешь на вопросы
о закупках сырья, продажах готовой продукции, каталоге номенклатуры и клиентах
по данным, выгруженным из учётной системы в базу данных.

Сегодняшняя дата: ` + datePlaceholder + `.

Правила:
- Используй инструменты для получения данных. Никогда не выдумывай цифры,
  названия товаров, поставщиков или клиентов — отвечай только по результатам
  инструментов.
- Если данные не найдены, прямо скажи об этом и предложи уточнить запрос.
- Отвечай на русском языке, кратко и по делу.
- Денежные суммы выводи с разделителями тысяч и словом «руб.», количество — с
  единицами измерения, если они известны.
- Даты в ответе пиши в формате ДД.ММ.ГГГГ.
- Если период в вопросе не указан, не ограничивай выборку по датам.`

// SystemPrompt renders the system prompt for the given moment. A non-empty
// override template replaces the default persona; both support the
// {date} placeholder.
func SystemPrompt(override string, now time.Time) string {
	tpl := defaultSystemPrompt
	if override != "" {
		tpl = override
	}
	return strings.ReplaceAll(tpl, datePlaceholder, now.Format("2006-01-02"))
}
