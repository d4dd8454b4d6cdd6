package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// errEnough ends a generation once the requested paragraphs are in.
var errEnough = errors.New("paragraph limit reached")

const (
	systemEN = "You are a calm, kind storyteller for small children. Write plain prose only, " +
		"with no title or headings, and separate paragraphs with a single blank line."
	systemTR = "Küçük çocuklar için sakin ve sevecen bir masalcısın. Başlık kullanmadan düz metin yaz " +
		"ve paragrafları tek bir boş satırla ayır."
)

// StoryGenerator turns a story request into a prompt for a Generator and
// splits the streamed completion into paragraphs.
type StoryGenerator struct {
	gen         Generator
	maxTokens   int
	temperature float64
}

func NewStoryGenerator(gen Generator, maxTokens int, temperature float64) *StoryGenerator {
	return &StoryGenerator{gen: gen, maxTokens: maxTokens, temperature: temperature}
}

// Story streams the paragraphs of one story to yield, in order. At most
// req.MaxParagraphs are delivered; generation stops once the limit is reached.
// An error returned by yield aborts the story and is returned unchanged.
func (s *StoryGenerator) Story(ctx context.Context, req StoryRequest, yield func(paragraph string) error) error {
	split := paragraphSplitter{limit: req.MaxParagraphs, yield: yield}
	err := s.gen.Generate(ctx, Request{
		SessionID:   req.SessionID,
		Prompt:      storyPrompt(req),
		System:      systemPrompt(req.Language),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}, func(chunk Chunk) error {
		return split.write(chunk.Content)
	})
	if errors.Is(err, errEnough) {
		return nil
	}
	if err != nil {
		return err
	}
	return split.flush()
}

func systemPrompt(language string) string {
	if language == "tr" {
		return systemTR
	}
	return systemEN
}

// storyPrompt keeps the topic on the last line.
func storyPrompt(req StoryRequest) string {
	topic := strings.Join(strings.Fields(req.Prompt), " ")
	if req.Language == "tr" {
		return fmt.Sprintf(`Lütfen %s yaşındaki bir çocuk için Türkçe, yaşına uygun, yumuşak bir uyku masalı oluşturun. Hikaye şöyle olmalı:

- Sakinleştirici ve huzur verici
- Eğitici veya olumlu değerler içeren
- Korkutucu, şiddetli veya uygunsuz içerik barındırmayan
- Uyku vakti için uygun, sonu rahatlatıcı

Hikayeyi %d kısa paragrafta yazın, her paragraf 2-3 cümle uzunluğunda olsun.

Hikaye konusu:
%s`, req.AgeRating, req.MaxParagraphs, topic)
	}
	return fmt.Sprintf(`Please write a gentle, age-appropriate bedtime story in English for a %s child. The story should be:

- Calming and peaceful
- Educational or featuring positive values
- Free from scary, violent or inappropriate content
- Suitable for bedtime, with a soothing ending

Write the story in %d short paragraphs of 2-3 sentences each.

Story topic:
%s`, req.AgeRating, req.MaxParagraphs, topic)
}

// paragraphSplitter buffers streamed text and emits a paragraph at every
// blank line.
type paragraphSplitter struct {
	buf   strings.Builder
	limit int
	count int
	yield func(string) error
}

func (p *paragraphSplitter) write(text string) error {
	if p.limit > 0 && p.count >= p.limit {
		return errEnough
	}
	p.buf.WriteString(strings.ReplaceAll(text, "\r\n", "\n"))
	for {
		pending := p.buf.String()
		i := strings.Index(pending, "\n\n")
		if i < 0 {
			return nil
		}
		p.buf.Reset()
		p.buf.WriteString(pending[i+2:])
		if err := p.emit(pending[:i]); err != nil {
			return err
		}
	}
}

func (p *paragraphSplitter) flush() error {
	rest := p.buf.String()
	p.buf.Reset()
	if err := p.emit(rest); err != nil && !errors.Is(err, errEnough) {
		return err
	}
	return nil
}

func (p *paragraphSplitter) emit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if p.limit > 0 && p.count >= p.limit {
		return errEnough
	}
	if err := p.yield(text); err != nil {
		return err
	}
	p.count++
	if p.limit > 0 && p.count >= p.limit {
		return errEnough
	}
	return nil
}
