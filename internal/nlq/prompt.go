package nlq

import (
	"fmt"
	"strings"
	"time"

	"github.com/metricsgate/metricsgate/internal/schema"
)

// Prompts are in Russian because that is the language of the questions the
// gateway serves. The schema section is rendered from the descriptor so the
// model and the validator always agree on the whitelist.

const classifierSystemPrompt = `Ты классифицируешь пользовательский вопрос.
Верни только YES или NO.
YES: вопрос про метрики видео/снапшотов, количество/сумму/прирост/фильтрацию по дате/креатору/id.
NO: приветствия, оффтоп, бессмысленный текст, команды вне аналитики.`

func schemaDescription() string {
	var b strings.Builder
	for i, table := range schema.Describe().Tables {
		fmt.Fprintf(&b, "%d) Таблица %s\n", i+1, table.Name)
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "- %s (%s)\n", column.Name, column.Type)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func planSystemPrompt(today time.Time) string {
	return fmt.Sprintf(`Ты преобразуешь русский вопрос пользователя в JSON-план для расчета одной числовой метрики по PostgreSQL.

Схема данных:
%s

Поля delta_* в video_snapshots — прирост метрики с прошлого снапшота.

Нужно вернуть только JSON без markdown.

Формат JSON:
{
  "source": "videos" | "video_snapshots",
  "aggregation": "count_rows" | "count_distinct" | "sum" | "avg" | "min" | "max" | "sum_delta_first_hours_after_publication",
  "field": "*" или точное имя поля,
  "hours": 3,
  "filters": [
    {
      "field": "точное имя поля",
      "op": "eq" | "gt" | "gte" | "lt" | "lte" | "date_on" | "date_between",
      "value": "значение для eq/gt/gte/lt/lte/date_on",
      "from": "YYYY-MM-DD для date_between",
      "to": "YYYY-MM-DD для date_between"
    }
  ]
}

Правила:
- Ответ всегда одно число, поэтому выбирай только одну агрегацию.
- Для "сколько всего видео" используй source=videos, aggregation=count_rows, field="*".
- Для "сколько разных видео ..." используй aggregation=count_distinct и field=video_id.
- Для "выросли просмотры/лайки/комментарии/жалобы" используй video_snapshots и соответствующее поле delta_*.
- Для "набрало больше N просмотров за все время" используй videos.views_count с op=gt.
- Для вопросов про "вышло" и период публикации используй videos.video_created_at.
- Для даты вида "28 ноября 2025" используй date_on.
- Диапазон "с 1 по 5 ноября 2025" преобразуй в date_between и восстанови месяц/год для обеих дат.
- Для "за первые N часов после публикации" используй aggregation=sum_delta_first_hours_after_publication, source=video_snapshots, field=delta_*, hours=N, filters=[].
- Не выдумывай поля и таблицы.
- Не добавляй объяснений.

Текущая дата UTC: %s`, schemaDescription(), today.UTC().Format("2006-01-02"))
}

func sqlSystemPrompt(today time.Time) string {
	return fmt.Sprintf(`Ты конвертируешь вопрос на русском в один SQL для PostgreSQL 16.
Текущая дата: %s.

Схема:
%s

Правила:
1) Итоговые значения за все время бери из videos.
2) Прирост/новые за день или период бери из video_snapshots по delta_*.
3) "Сколько разных видео получали новые просмотры" = COUNT(DISTINCT video_id) и delta_views_count > 0.
4) Дата публикации видео: videos.video_created_at.
5) Активность/прирост по времени: video_snapshots.created_at.
6) Одна дата и диапазон дат включительны:
   col >= DATE 'YYYY-MM-DD' AND col < DATE 'YYYY-MM-DD' + INTERVAL '1 day'
   для периода "с ... по ...": левая граница = start, правая = end + 1 day.
7) Возвращай одну числовую колонку value.
8) Для SUM используй COALESCE(SUM(...), 0).
9) Только SELECT. Без объяснений, markdown, комментариев, лишнего текста.

Примеры:
Q: Сколько всего видео есть в системе?
SQL: SELECT COUNT(*)::bigint AS value FROM videos

Q: Сколько видео набрало больше 100000 просмотров за всё время?
SQL: SELECT COUNT(*)::bigint AS value FROM videos WHERE views_count > 100000

Q: На сколько просмотров в сумме выросли все видео 28 ноября 2025?
SQL: SELECT COALESCE(SUM(delta_views_count), 0)::bigint AS value FROM video_snapshots WHERE created_at >= DATE '2025-11-28' AND created_at < DATE '2025-11-28' + INTERVAL '1 day'

Q: Сколько разных видео получали новые просмотры 27 ноября 2025?
SQL: SELECT COUNT(DISTINCT video_id)::bigint AS value FROM video_snapshots WHERE delta_views_count > 0 AND created_at >= DATE '2025-11-27' AND created_at < DATE '2025-11-27' + INTERVAL '1 day'

Верни только SQL-запрос.`, today.UTC().Format("2006-01-02"), schemaDescription())
}

func repairUserPrompt(question, candidate, reason string) string {
	return fmt.Sprintf(`Исправь ответ под ограничения.
Вопрос:
%s

Предыдущий ответ:
%s

Ошибка валидации:
%s

Верни только исправленный ответ в том же формате.`, question, candidate, reason)
}
