package speech

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
)

const sampleResult = `<?xml version="1.0" encoding="utf-8"?>
<xml_result>
  <read_sentence lan="cn" type="study" version="7,0,0,1024">
    <rec_paper>
      <read_sentence accuracy_score="84.5" emotion_score="70" fluency_score="82" integrity_score="90"
                     phone_score="88" tone_score="83" total_score="86.2" is_rejected="false" except_info="0"
                     content="四是四十是十">
        <sentence content="四是四十是十" beg_pos="0" end_pos="300">
          <word beg_pos="10" content="四" end_pos="50" symbol="si4" time_len="40">
            <syll content="四" symbol="si4">
              <phone content="s" perr_msg="2" is_yun="0" beg_pos="10" end_pos="30"/>
              <phone content="ii" perr_msg="0" is_yun="1" mono_tone="TONE4" beg_pos="30" end_pos="50"/>
            </syll>
          </word>
          <word beg_pos="50" content="是" end_pos="90" symbol="shi4" time_len="40">
            <syll content="是" symbol="shi4">
              <phone content="sh" perr_msg="0" is_yun="0"/>
              <phone content="iii" perr_msg="3" is_yun="1" mono_tone="TONE2"/>
            </syll>
          </word>
          <word beg_pos="90" content="四" end_pos="130" symbol="si4" time_len="40">
            <syll content="四" symbol="si4">
              <phone content="s" perr_msg="x" is_yun="0"/>
              <phone content="ii" perr_msg="1" is_yun="1" mono_tone="TONE4"/>
            </syll>
          </word>
        </sentence>
      </read_sentence>
    </rec_paper>
  </read_sentence>
</xml_result>`

func sentenceXML(attrs string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?><xml_result><read_sentence lan="cn"><rec_paper><read_sentence %s><sentence content="四"><word content="四" beg_pos="0" end_pos="40" time_len="40"/></sentence></read_sentence></rec_paper></read_sentence></xml_result>`, attrs)
}

func TestDecodeDocumentNestedSentence(t *testing.T) {
	frag := DecodeDocument([]byte(sampleResult))

	if frag.Kind != FragmentComplete {
		t.Fatalf("kind = %v, want complete", frag.Kind)
	}
	want := Scores{Accuracy: 84.5, Fluency: 82, Integrity: 90, Phone: 88, Tone: 83, Emotion: 70, Total: 86.2}
	if frag.Scores != want {
		t.Fatalf("scores = %+v, want %+v", frag.Scores, want)
	}
	if frag.Rejected {
		t.Error("rejected should be false")
	}
	if frag.ExceptInfo != "0" {
		t.Errorf("except info = %q", frag.ExceptInfo)
	}
	if frag.Encoding != "utf-8" {
		t.Errorf("encoding = %q, want utf-8", frag.Encoding)
	}

	if len(frag.Words) != 3 {
		t.Fatalf("words = %d, want 3", len(frag.Words))
	}

	first := frag.Words[0]
	if first.Content != "四" || first.BeginPos != 10 || first.EndPos != 50 || first.Duration != 40 || first.Symbol != "si4" {
		t.Fatalf("unexpected first word: %+v", first)
	}
	if len(first.Errors) != 1 || first.Errors[0].Phoneme != "s" || first.Errors[0].Severity != evaluation.SeverityClear || first.Errors[0].IsVowel {
		t.Fatalf("unexpected first word errors: %+v", first.Errors)
	}

	second := frag.Words[1]
	if len(second.Errors) != 1 {
		t.Fatalf("second word errors = %+v", second.Errors)
	}
	perr := second.Errors[0]
	if perr.Severity != evaluation.SeveritySevere || !perr.IsVowel || perr.Tone != "TONE2" || perr.Severity.Label() != "severe" {
		t.Fatalf("unexpected vowel error: %+v", perr)
	}

	third := frag.Words[2]
	if len(third.Errors) != 1 || third.Errors[0].Severity != evaluation.SeverityMinor {
		t.Fatalf("non-numeric marker should be skipped, got %+v", third.Errors)
	}
}

func TestDecodeDocumentFallsBackToAnySentenceNode(t *testing.T) {
	doc := `<xml_result><read_sentence total_score="72" phone_score="70" fluency_score="75"/></xml_result>`
	frag := DecodeDocument([]byte(doc))
	if frag.Kind != FragmentComplete || frag.Scores.Total != 72 || frag.Scores.Phone != 70 {
		t.Fatalf("unexpected fragment: %+v", frag)
	}
}

func TestDecodeDocumentClassification(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want FragmentKind
	}{
		{name: "no sentence node", doc: `<xml_result><other/></xml_result>`, want: FragmentEmpty},
		{name: "not xml", doc: `this is not markup`, want: FragmentEmpty},
		{name: "empty", doc: ``, want: FragmentEmpty},
		{name: "all zero", doc: sentenceXML(`total_score="0" phone_score="0" is_rejected="false"`), want: FragmentPartial},
		{name: "missing attributes", doc: sentenceXML(``), want: FragmentPartial},
		{name: "non numeric", doc: sentenceXML(`total_score="n/a" phone_score="abc"`), want: FragmentPartial},
		{name: "rejected with zero scores", doc: sentenceXML(`total_score="0" is_rejected="true" except_info="28673"`), want: FragmentComplete},
		{name: "scored", doc: sentenceXML(`total_score="66.5"`), want: FragmentComplete},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frag := DecodeDocument([]byte(tc.doc))
			if frag.Kind != tc.want {
				t.Fatalf("kind = %v, want %v", frag.Kind, tc.want)
			}
		})
	}
}

func TestDecodeDocumentRejectedFlag(t *testing.T) {
	frag := DecodeDocument([]byte(sentenceXML(`total_score="12" is_rejected="true" except_info="28676"`)))
	if !frag.Rejected || frag.ExceptInfo != "28676" {
		t.Fatalf("unexpected rejection fields: %+v", frag)
	}
}

func TestDecodeDocumentSanitizesScores(t *testing.T) {
	doc := sentenceXML(`total_score="72" phone_score="NaN" fluency_score="150" integrity_score="-20" tone_score="Inf" accuracy_score="+Inf" emotion_score="99.5"`)
	frag := DecodeDocument([]byte(doc))

	want := Scores{Total: 72, Phone: 0, Fluency: 100, Integrity: 0, Tone: 0, Accuracy: 0, Emotion: 99.5}
	if frag.Scores != want {
		t.Fatalf("scores = %+v, want %+v", frag.Scores, want)
	}
	if _, err := json.Marshal(frag.SentenceScore("四")); err != nil {
		t.Fatalf("marshal sentence score: %v", err)
	}
}

func TestDecodeDocumentGBKFallback(t *testing.T) {
	doc := `<?xml version="1.0" encoding="gbk"?>` + sentenceXML(`total_score="91" content="四是四"`)[len(`<?xml version="1.0" encoding="utf-8"?>`):]
	encoded, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(doc))
	if err != nil {
		t.Fatalf("encode gbk: %v", err)
	}

	frag := DecodeDocument(encoded)
	if frag.Encoding != "gbk" {
		t.Fatalf("encoding = %q, want gbk", frag.Encoding)
	}
	if frag.Kind != FragmentComplete || frag.Scores.Total != 91 {
		t.Fatalf("unexpected fragment: %+v", frag)
	}
	if len(frag.Words) != 1 || frag.Words[0].Content != "四" {
		t.Fatalf("word content not decoded: %+v", frag.Words)
	}
}

func TestDecodeTextNeverFails(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want string
	}{
		{name: "utf-8", in: []byte("四是四"), want: "utf-8"},
		{name: "gbk", in: []byte{0xcb, 0xc4}, want: "gbk"},
		{name: "garbage", in: []byte{0xff, 0xff, 0xff}, want: "utf-8-replace"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, enc := decodeText(tc.in)
			if enc != tc.want {
				t.Fatalf("decoder = %q, want %q", enc, tc.want)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	frag, err := DecodePayload(base64.StdEncoding.EncodeToString([]byte(sampleResult)))
	if err != nil {
		t.Fatalf("DecodePayload err: %v", err)
	}
	if frag.Scores.Total != 86.2 {
		t.Fatalf("total = %v", frag.Scores.Total)
	}

	_, err = DecodePayload("%%% not base64")
	if !evaluation.IsKind(err, evaluation.KindDecode) {
		t.Fatalf("expected decode failure, got %v", err)
	}
}

func TestFragmentSentenceScoreMapping(t *testing.T) {
	frag := DecodeDocument([]byte(sampleResult))
	score := frag.SentenceScore("四是四十是十")

	if score.Pronunciation != 88 || score.Total != 86.2 || score.Fluency != 82 || score.Integrity != 90 || score.Tone != 83 {
		t.Fatalf("unexpected mapping: %+v", score)
	}
	if score.Accuracy != 84.5 || score.Emotion != 70 {
		t.Fatalf("accuracy/emotion not kept: %+v", score)
	}
	if score.Text != "四是四十是十" || len(score.Words) != 3 {
		t.Fatalf("unexpected text/words: %+v", score)
	}
}

func TestMergeFragmentsFirstCompleteWins(t *testing.T) {
	partial := DecodeDocument([]byte(sentenceXML(`total_score="0" is_rejected="false"`)))
	complete := DecodeDocument([]byte(sentenceXML(`total_score="86"`)))
	later := DecodeDocument([]byte(sentenceXML(`total_score="40"`)))

	cases := []struct {
		name      string
		in        []Fragment
		wantKind  FragmentKind
		wantTotal float64
	}{
		{name: "zero payload then scored", in: []Fragment{{}, {}, partial, complete}, wantKind: FragmentComplete, wantTotal: 86},
		{name: "first complete kept", in: []Fragment{complete, later}, wantKind: FragmentComplete, wantTotal: 86},
		{name: "only partial", in: []Fragment{{}, partial}, wantKind: FragmentPartial, wantTotal: 0},
		{name: "nothing", in: nil, wantKind: FragmentEmpty, wantTotal: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mergeFragments(tc.in)
			if got.Kind != tc.wantKind || got.Scores.Total != tc.wantTotal {
				t.Fatalf("merged = %v/%v, want %v/%v", got.Kind, got.Scores.Total, tc.wantKind, tc.wantTotal)
			}
			if got.Rejected {
				t.Fatal("merged result should not be rejected")
			}
		})
	}
}
