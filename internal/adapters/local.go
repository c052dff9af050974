package adapters

import (
	"context"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/textprep"
)

// Voice archetypes.
const (
	VoiceDefault               = "default"
	VoiceWiseNarrator          = "wise_narrator"
	VoiceDramaticStoryteller   = "dramatic_storyteller"
	VoiceMysterious            = "mysterious_voice"
	VoiceEnergeticGuide        = "energetic_guide"
	VoiceGentleCompanion       = "gentle_companion"
	VoiceProfessionalPresenter = "professional_presenter"
)

// EmotionNeutral is reported when no emotion dominates.
const EmotionNeutral = "neutral"

const (
	// WordsPerMinute is the narration pace used to size local audio.
	WordsPerMinute = 150

	shortTextWords   = 50
	minSpeech        = 250 * time.Millisecond
	baseIntensity    = 0.5
	intensityPerHit  = 0.1
	maxIntensity     = 0.9
	minVoicePitch    = 160.0
	voicePitchSpread = 140
)

// DefaultProfile is the emotion profile used when analysis is unavailable.
func DefaultProfile() core.EmotionProfile {
	return core.EmotionProfile{
		PrimaryEmotion:   EmotionNeutral,
		Intensity:        baseIntensity,
		RecommendedVoice: VoiceWiseNarrator,
	}
}

var emotionVoices = map[string]string{
	"fear":       VoiceMysterious,
	"sadness":    VoiceGentleCompanion,
	"calm":       VoiceGentleCompanion,
	"joy":        VoiceEnergeticGuide,
	"excitement": VoiceEnergeticGuide,
	"anger":      VoiceDramaticStoryteller,
	"surprise":   VoiceDramaticStoryteller,
}

// VoiceForEmotion maps an emotion to the archetype that reads it best.
func VoiceForEmotion(emotion string) string {
	if voice, ok := emotionVoices[strings.ToLower(emotion)]; ok {
		return voice
	}

	return VoiceWiseNarrator
}

type toneRule struct {
	prefix       string
	suffix       string
	replacements map[string]string
}

var toneRules = map[string]toneRule{
	"suspenseful": {
		prefix: "In a spine-chilling turn of events, ",
		suffix: " The tension was palpable, leaving everyone on edge.",
		replacements: map[string]string{
			"walked": "crept cautiously", "said": "whispered ominously",
			"looked": "peered suspiciously", "went": "ventured carefully",
		},
	},
	"dramatic": {
		prefix: "With overwhelming emotion, ",
		suffix: " The moment was filled with raw, powerful intensity.",
		replacements: map[string]string{
			"walked": "strode dramatically", "said": "declared passionately",
			"looked": "gazed intensely", "felt": "experienced deeply",
		},
	},
	"inspiring": {
		prefix: "With hope and determination, ",
		suffix: " This moment would inspire generations to come.",
		replacements: map[string]string{
			"walked": "moved forward courageously", "said": "proclaimed with conviction",
			"looked": "envisioned a brighter future", "tried": "persevered with unwavering resolve",
		},
	},
	"calming": {
		prefix: "In peaceful serenity, ",
		suffix: " A sense of tranquil calm settled over everything.",
		replacements: map[string]string{
			"walked": "strolled peacefully", "said": "spoke gently",
			"looked": "observed serenely", "moved": "flowed gracefully",
		},
	},
	"educational": {
		prefix: "It is important to understand that ",
		suffix: " This knowledge forms the foundation for further learning.",
		replacements: map[string]string{
			"said": "explained clearly", "showed": "demonstrated effectively",
			"found": "discovered through research", "knew": "understood from evidence",
		},
	},
	"formal": {
		prefix: "It should be noted that ",
		suffix: " This matter requires careful consideration.",
		replacements: map[string]string{
			"said": "stated formally", "told": "informed officially",
			"asked": "inquired respectfully", "got": "obtained through proper channels",
		},
	},
	"conversational": {
		prefix: "You know, ",
		suffix: " Pretty interesting stuff, right?",
		replacements: map[string]string{
			"said": "mentioned casually", "told": "shared with me",
			"found": "came across", "learned": "picked up",
		},
	},
}

var wordPattern = regexp.MustCompile(`\b[A-Za-z]+\b`)

// RewriteTone applies the rule-based tone rewrite: whole-word verb
// replacements, plus a tone prefix and suffix for texts under fifty words.
// Neutral and unknown tones return text unchanged.
func RewriteTone(text, tone string) string {
	rule, ok := toneRules[tone]
	if !ok {
		return text
	}

	result := wordPattern.ReplaceAllStringFunc(text, func(word string) string {
		replacement, found := rule.replacements[strings.ToLower(word)]
		if !found {
			return word
		}

		if unicode.IsUpper([]rune(word)[0]) {
			return capitalize(replacement)
		}

		return replacement
	})

	if textprep.WordCount(result) < shortTextWords {
		result = rule.prefix + lowerFirst(result) + rule.suffix
	}

	return result
}

func capitalize(text string) string {
	runes := []rune(text)
	runes[0] = unicode.ToUpper(runes[0])

	return string(runes)
}

// lowerFirst lowers the first letter unless the first word looks like a name
// or acronym.
func lowerFirst(text string) string {
	runes := []rune(text)
	if len(runes) < 2 || !unicode.IsUpper(runes[0]) || unicode.IsUpper(runes[1]) {
		return text
	}

	runes[0] = unicode.ToLower(runes[0])

	return string(runes)
}

// LocalTransformer rewrites text with the built-in tone rules.
type LocalTransformer struct{}

// Transform implements core.TextTransformer.
func (LocalTransformer) Transform(ctx context.Context, req core.TransformRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", core.NewError(core.KindTransientService, opTransform, err)
	}

	return RewriteTone(req.Text, req.Tone), nil
}

// LocalEnhancer normalises text for narration without a remote model.
type LocalEnhancer struct {
	normalizer *textprep.Normalizer
}

// NewLocalEnhancer creates a local enhancer.
func NewLocalEnhancer() *LocalEnhancer {
	return &LocalEnhancer{normalizer: textprep.NewNormalizer()}
}

// Enhance implements core.ContentEnhancer.
func (e *LocalEnhancer) Enhance(ctx context.Context, req core.EnhanceRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", core.NewError(core.KindTransientService, opEnhance, err)
	}

	return e.normalizer.Normalize(req.Text, req.Language), nil
}

var emotionLexicon = map[string][]string{
	"fear":       {"fear", "afraid", "terror", "dread", "scared", "haunted", "nightmare", "shadow", "ghost"},
	"sadness":    {"sad", "grief", "tears", "lonely", "loss", "mourn", "sorrow", "cried"},
	"joy":        {"happy", "joy", "love", "wonderful", "delight", "laughed", "smile", "great"},
	"excitement": {"amazing", "thrilling", "exciting", "adventure", "incredible", "fantastic"},
	"anger":      {"angry", "rage", "furious", "hate", "shouted", "fury"},
	"surprise":   {"suddenly", "unexpected", "shock", "astonished", "gasped"},
	"calm":       {"calm", "peaceful", "quiet", "gentle", "serene", "still"},
}

// LocalAnalyzer scores text against a keyword lexicon.
type LocalAnalyzer struct{}

// Analyze implements core.EmotionAnalyzer. Each keyword hit adds 0.1 to a base
// intensity of 0.5, capped at 0.9; ties go to the alphabetically first emotion.
func (LocalAnalyzer) Analyze(ctx context.Context, text string) (core.EmotionProfile, error) {
	if err := ctx.Err(); err != nil {
		return core.EmotionProfile{}, core.NewError(core.KindTransientService, opAnalyze, err)
	}

	counts := make(map[string]int, len(emotionLexicon))

	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		for emotion, keywords := range emotionLexicon {
			for _, keyword := range keywords {
				if word == keyword {
					counts[emotion]++
				}
			}
		}
	}

	emotions := make([]string, 0, len(counts))
	for emotion := range counts {
		emotions = append(emotions, emotion)
	}

	sort.Strings(emotions)

	best, bestCount := "", 0

	for _, emotion := range emotions {
		if counts[emotion] > bestCount {
			best, bestCount = emotion, counts[emotion]
		}
	}

	if bestCount == 0 {
		return DefaultProfile(), nil
	}

	return core.EmotionProfile{
		PrimaryEmotion:   best,
		Intensity:        min(maxIntensity, baseIntensity+intensityPerHit*float64(bestCount)),
		RecommendedVoice: VoiceForEmotion(best),
	}, nil
}

// LocalSynthesizer renders a sine tone sized to the narration length at
// WordsPerMinute. Each voice gets its own pitch.
type LocalSynthesizer struct{}

// Synthesize implements core.SpeechSynthesizer.
func (LocalSynthesizer) Synthesize(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.NewError(core.KindTransientService, opSynthesize, err)
	}

	if strings.TrimSpace(req.Text) == "" {
		return nil, core.NewError(core.KindPermanentService, opSynthesize, ErrEmptyText)
	}

	return audio.Encode(audio.Tone(SpeechDuration(req.Text), voicePitch(req.Voice))), nil
}

// SpeechDuration estimates how long text takes to read at WordsPerMinute.
func SpeechDuration(text string) time.Duration {
	words := textprep.WordCount(text)

	return max(minSpeech, time.Duration(words)*time.Minute/WordsPerMinute)
}

func voicePitch(voice string) float64 {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(voice))

	return minVoicePitch + float64(hash.Sum32()%voicePitchSpread)
}
